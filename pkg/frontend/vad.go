package frontend

import "github.com/teslashibe/go-voxcore/pkg/audioio"

// RMSVAD is a voice activity detector based on RMS energy levels.
// Uses hysteresis to avoid flickering between speech and silence states.
type RMSVAD struct {
	speechThreshold  float64 // RMS level to start speech
	silenceThreshold float64 // RMS level to end speech
	speechFrames     int     // consecutive speech frames needed to trigger
	silenceFrames    int     // consecutive silence frames needed to end
	inSpeech         bool
	speechCount      int
	silenceCount     int
}

// NewRMSVAD builds a detector from cfg, converting durations to frame
// counts at the configured frame size.
func NewRMSVAD(cfg Config) *RMSVAD {
	return &RMSVAD{
		speechThreshold:  cfg.VAD.SpeechThreshold,
		silenceThreshold: cfg.VAD.SilenceThreshold,
		speechFrames:     cfg.frames(cfg.VAD.MinSpeech),
		silenceFrames:    cfg.frames(cfg.VAD.MinSilence),
	}
}

// IsSpeech returns true if the PCM frame is considered speech.
func (v *RMSVAD) IsSpeech(pcm []int16) bool {
	level := audioio.CalculateRMS(pcm)

	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			v.speechCount = 0
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
	} else {
		if level >= v.speechThreshold {
			v.speechCount++
			v.silenceCount = 0
			if v.speechCount >= v.speechFrames {
				v.inSpeech = true
				v.speechCount = 0
			}
		} else {
			v.speechCount = 0
		}
	}

	return v.inSpeech
}

// Reset clears internal state.
func (v *RMSVAD) Reset() {
	v.inSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}
