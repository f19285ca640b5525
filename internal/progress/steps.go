package progress

import "omnishot/internal/domain"

// Step is one named processing stage with its share of total job progress.
type Step struct {
	Name   string
	Weight int
}

// Step names shared across job types.
const (
	StepUpload         = "upload"
	StepValidation     = "validation"
	StepPreprocessing  = "preprocessing"
	StepGeneration     = "generation"
	StepPostprocessing = "postprocessing"
	StepDelivery       = "delivery"
	StepGenerationA    = "generation_a"
	StepGenerationB    = "generation_b"
	StepScoring        = "scoring"
	StepAnalysis       = "analysis"
)

// stepTables maps each job type to its weighted steps. Weights for every
// table sum to exactly 100; TestStepWeightsSumTo100 enforces it.
var stepTables = map[domain.JobType][]Step{
	domain.JobTypeSingle: {
		{StepUpload, 10},
		{StepValidation, 15},
		{StepPreprocessing, 10},
		{StepGeneration, 55},
		{StepPostprocessing, 8},
		{StepDelivery, 2},
	},
	domain.JobTypeBatch: {
		{StepUpload, 8},
		{StepValidation, 10},
		{StepPreprocessing, 10},
		{StepGeneration, 60},
		{StepPostprocessing, 8},
		{StepDelivery, 4},
	},
	domain.JobTypeComparison: {
		{StepUpload, 10},
		{StepValidation, 10},
		{StepGenerationA, 35},
		{StepGenerationB, 35},
		{StepScoring, 8},
		{StepDelivery, 2},
	},
	// quality_only has no discrete steps; progress is driven by explicit
	// percentage overrides against a single analysis stage.
	domain.JobTypeQualityOnly: {
		{StepAnalysis, 100},
	},
}

// StepsFor returns the weighted steps for a job type. Unknown types fall back
// to the single-job table.
func StepsFor(t domain.JobType) []Step {
	steps, ok := stepTables[t]
	if !ok {
		steps = stepTables[domain.JobTypeSingle]
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
