package summarize

import "github.com/jwulff/clinote/internal/settings"

var templates = map[settings.Specialty]string{
	settings.PrimaryCare: `Primary Care Focus:
- Comprehensive physical examination findings
- Vital signs and basic measurements
- Preventive care recommendations (vaccinations, screenings)
- Chronic disease management (diabetes, hypertension, etc.)
- Lifestyle counseling (diet, exercise, smoking cessation)
- Referral decisions and follow-up planning
- Assessment should include risk stratification and preventive recommendations
- Treatment plan should address both acute and chronic conditions`,

	settings.Psychiatry: `Psychiatry Focus:
- Mental status examination (appearance, behavior, mood, affect, thought process, cognition)
- Psychiatric history including previous episodes and treatments
- Current psychiatric medications and their effectiveness
- Risk assessment (suicidal/homicidal ideation, self-harm)
- Substance use history and current use
- Social support systems and stressors
- Differential diagnosis including mood, anxiety, psychotic, and personality disorders
- Treatment plan should include medication management, therapy recommendations, and safety planning`,

	settings.Cardiology: `Cardiology Focus:
- Cardiovascular symptoms (chest pain, dyspnea, palpitations, edema)
- Cardiac risk factors and family history
- Physical examination with focus on cardiovascular system
- Current cardiac medications and their effectiveness
- Previous cardiac procedures and tests
- Assessment should include cardiac risk stratification
- Treatment plan should address immediate cardiac concerns and long-term management
- Recommendations for diagnostic testing (ECG, echocardiogram, stress test)`,

	settings.Dermatology: `Dermatology Focus:
- Detailed description of skin lesions (location, size, color, texture, borders)
- Dermatological history including previous skin conditions
- Family history of skin conditions
- Current skin care routine and products used
- Sun exposure history and protection practices
- Assessment should include differential diagnosis of skin conditions
- Treatment plan should specify topical vs systemic treatments
- Recommendations for skin biopsies or specialist referral`,

	settings.Pediatrics: `Pediatrics Focus:
- Age-appropriate developmental milestones
- Growth parameters (height, weight, head circumference)
- Immunization status and schedule
- Family history and social determinants of health
- School performance and behavioral concerns
- Assessment should consider age-specific normal ranges
- Treatment plan should include parental education and anticipatory guidance
- Recommendations for developmental screening and specialist referrals`,

	settings.Orthopedics: `Orthopedics Focus:
- Detailed musculoskeletal examination
- Mechanism of injury and timeline
- Functional limitations and impact on daily activities
- Previous injuries and treatments
- Imaging studies and their findings
- Assessment should include differential diagnosis of musculoskeletal conditions
- Treatment plan should address pain management, rehabilitation, and surgical options
- Recommendations for physical therapy, bracing, or surgical intervention`,

	settings.Neurology: `Neurology Focus:
- Neurological examination (mental status, cranial nerves, motor, sensory, reflexes)
- Neurological symptoms (headache, seizures, weakness, numbness, coordination)
- Previous neurological conditions and treatments
- Family history of neurological disorders
- Assessment should include localization of neurological deficits
- Treatment plan should address symptom management and disease progression
- Recommendations for neuroimaging and specialist consultation`,

	settings.EmergencyMedicine: `Emergency Medicine Focus:
- Acute presentation and chief complaint
- Vital signs and hemodynamic stability
- Trauma assessment if applicable
- Rapid assessment of life-threatening conditions
- Pain management and immediate interventions
- Assessment should prioritize ruling out emergent conditions
- Treatment plan should address immediate stabilization and disposition
- Recommendations for admission, discharge, or transfer`,
}

// Template returns the extraction checklist for a specialty. Unknown
// specialties get the primary care checklist.
func Template(s settings.Specialty) string {
	return templates[s.Normalize()]
}
