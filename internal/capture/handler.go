package capture

import (
	"context"

	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/fault"
)

// Handle serves the commands the orchestrator forwards to the agent.
func (a *Agent) Handle(ctx context.Context, cmd daemon.Command) daemon.Response {
	switch cmd.Cmd {
	case daemon.CmdPing:
		return daemon.Response{OK: true, Message: "pong"}

	case daemon.CmdStartCapture:
		id, err := a.Start(ctx)
		if err != nil {
			resp := daemon.ErrorResponse(err)
			resp.SessionID = id
			return resp
		}
		return daemon.Response{OK: true, SessionID: id, Recording: daemon.BoolPtr(true), State: string(Recording)}

	case daemon.CmdStopCapture:
		if err := a.Stop(ctx); err != nil {
			return daemon.ErrorResponse(err)
		}
		st := a.Status()
		return daemon.Response{OK: true, SessionID: st.SessionID, Recording: daemon.BoolPtr(false), State: string(st.State)}

	case daemon.CmdNewSession:
		id := a.NewSession(ctx)
		return daemon.Response{OK: true, SessionID: id, State: string(Idle)}

	case daemon.CmdSettingsChanged:
		a.InvalidateSettings()
		return daemon.OK()

	case daemon.CmdStatus:
		st := a.Status()
		return daemon.Response{
			OK:            true,
			SessionID:     st.SessionID,
			Recording:     daemon.BoolPtr(st.State == Recording),
			State:         string(st.State),
			HasTranscript: daemon.BoolPtr(st.Transcript != ""),
			HasSummary:    daemon.BoolPtr(st.Summary != nil),
			Transcript:    st.Transcript,
			Summary:       st.Summary,
		}

	default:
		return daemon.ErrorResponse(fault.New(fault.Configuration, cmd.Cmd, "unknown command %q", cmd.Cmd))
	}
}
