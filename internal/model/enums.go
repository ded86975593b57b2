package model

// Job status
type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusQueued           JobStatus = "queued"
	JobStatusPromptGenerating JobStatus = "prompt_generating"
	JobStatusAIProcessing     JobStatus = "ai_processing"
	JobStatusImageUploading   JobStatus = "image_uploading"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusCancelled        JobStatus = "cancelled"
)

var ValidJobStatuses = []JobStatus{
	JobStatusPending, JobStatusQueued, JobStatusPromptGenerating, JobStatusAIProcessing,
	JobStatusImageUploading, JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusPromptGenerating, JobStatusAIProcessing,
		JobStatusImageUploading, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	case JobStatusPending, JobStatusQueued, JobStatusPromptGenerating, JobStatusAIProcessing, JobStatusImageUploading:
		return false
	}
	return false
}

// IsProcessing reports whether a worker owns the job in this state.
func (s JobStatus) IsProcessing() bool {
	switch s {
	case JobStatusPromptGenerating, JobStatusAIProcessing, JobStatusImageUploading:
		return true
	case JobStatusPending, JobStatusQueued, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return false
	}
	return false
}

// Progress maps a status onto a coarse percentage for UI progress bars.
func (s JobStatus) Progress() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 5
	case JobStatusPromptGenerating:
		return 15
	case JobStatusAIProcessing:
		return 40
	case JobStatusImageUploading:
		return 80
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 100
	}
	return 0
}

// Trigger is the action that created a job.
type Trigger string

const (
	TriggerPageButton    Trigger = "page_button"
	TriggerTextSelection Trigger = "text_selection"
	TriggerAutoNovel     Trigger = "auto_novel"
)

func (t Trigger) Valid() bool {
	switch t {
	case TriggerPageButton, TriggerTextSelection, TriggerAutoNovel:
		return true
	}
	return false
}

// DefaultPriority ranks user-initiated triggers above batch runs.
func (t Trigger) DefaultPriority() int {
	switch t {
	case TriggerPageButton, TriggerTextSelection:
		return PriorityUser
	case TriggerAutoNovel:
		return PriorityBatch
	}
	return PriorityBatch
}

// Priority bounds
const (
	PriorityBatch = 1
	PriorityUser  = 10
	PriorityMax   = 100
)

// Provider is an external image generation backend.
type Provider string

const (
	ProviderDallE3          Provider = "dalle3"
	ProviderMidjourney      Provider = "midjourney"
	ProviderStableDiffusion Provider = "stable-diffusion"
	ProviderFlux            Provider = "flux"
)

var ValidProviders = []Provider{
	ProviderDallE3, ProviderMidjourney, ProviderStableDiffusion, ProviderFlux,
}

const DefaultProvider = ProviderDallE3

func (p Provider) Valid() bool {
	switch p {
	case ProviderDallE3, ProviderMidjourney, ProviderStableDiffusion, ProviderFlux:
		return true
	}
	return false
}

// MaxPromptLength is the longest prompt the provider accepts.
func (p Provider) MaxPromptLength() int {
	switch p {
	case ProviderDallE3:
		return 4000
	case ProviderMidjourney:
		return 6000
	case ProviderStableDiffusion:
		return 380
	case ProviderFlux:
		return 1000
	}
	return 1000
}

// SupportsNegativePrompt reports whether negative prompts are forwarded.
func (p Provider) SupportsNegativePrompt() bool {
	switch p {
	case ProviderStableDiffusion, ProviderFlux, ProviderMidjourney:
		return true
	case ProviderDallE3:
		return false
	}
	return false
}

// Visualization styles
type Style string

const (
	StyleRealistic   Style = "realistic"
	StyleFantasy     Style = "fantasy"
	StyleManga       Style = "manga"
	StyleAnime       Style = "anime"
	StyleComic       Style = "comic"
	StylePainterly   Style = "painterly"
	StyleSketch      Style = "sketch"
	StyleCinematic   Style = "cinematic"
	StyleWatercolor  Style = "watercolor"
	StyleOilPainting Style = "oil_painting"
)

// Aspect ratios
type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectPortrait  AspectRatio = "2:3"
	AspectLandscape AspectRatio = "3:2"
	AspectWide      AspectRatio = "16:9"
	AspectTall      AspectRatio = "9:16"
)

// Quality levels
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHD       Quality = "hd"
)
