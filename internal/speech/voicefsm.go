package speech

import "fmt"

// VoiceState is the push-to-talk input state.
type VoiceState string

const (
	VoiceIdle       VoiceState = "idle"
	VoiceListening  VoiceState = "listening"
	VoiceSubmitting VoiceState = "submitting"
)

// VoiceInput is the push-to-talk state machine. Recognition starts are
// rejected while a transcript is being submitted or while the assistant
// turn is still streaming.
type VoiceInput struct {
	state     VoiceState
	streaming bool
}

// NewVoiceInput returns an idle voice input.
func NewVoiceInput() *VoiceInput {
	return &VoiceInput{state: VoiceIdle}
}

// State returns the current input state.
func (v *VoiceInput) State() VoiceState {
	return v.state
}

// SetStreaming marks whether an assistant turn is currently streaming.
func (v *VoiceInput) SetStreaming(streaming bool) {
	v.streaming = streaming
}

// Press starts listening.
func (v *VoiceInput) Press() error {
	if v.state == VoiceSubmitting {
		return fmt.Errorf("recognition rejected: transcript submission in progress")
	}
	if v.streaming {
		return fmt.Errorf("recognition rejected: assistant turn still streaming")
	}
	if v.state == VoiceListening {
		return fmt.Errorf("already listening")
	}
	v.state = VoiceListening
	return nil
}

// Release stops listening. With a non-empty transcript the input moves to
// submitting; otherwise it returns to idle.
func (v *VoiceInput) Release(transcript string) (VoiceState, error) {
	if v.state != VoiceListening {
		return v.state, fmt.Errorf("release without active listening")
	}
	if transcript == "" {
		v.state = VoiceIdle
	} else {
		v.state = VoiceSubmitting
	}
	return v.state, nil
}

// SubmitDone returns the input to idle after the transcript was handed to
// the orchestrator.
func (v *VoiceInput) SubmitDone() {
	if v.state == VoiceSubmitting {
		v.state = VoiceIdle
	}
}
