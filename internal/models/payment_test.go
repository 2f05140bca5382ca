package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoiceRecording_HasAudioIgnoresProcessed(t *testing.T) {
	clip := VoiceRecording{AudioData: "UklGRg==", FileName: "clip.wav"}
	assert.True(t, clip.HasAudio())

	clip.Processed = true
	assert.True(t, clip.HasAudio())

	assert.False(t, VoiceRecording{AudioData: "UklGRg=="}.HasAudio())
	assert.False(t, VoiceRecording{FileName: "clip.wav"}.HasAudio())
}
