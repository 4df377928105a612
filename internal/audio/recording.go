package audio

import (
	"path/filepath"
	"sync"
)

// SessionRecorder accumulates the user's captured audio and the assistant's
// played audio as two separate tracks.
type SessionRecorder struct {
	mu        sync.Mutex
	user      []byte
	assistant []byte
}

func (r *SessionRecorder) addUser(pcm []byte) {
	r.mu.Lock()
	r.user = append(r.user, pcm...)
	r.mu.Unlock()
}

func (r *SessionRecorder) addAssistant(pcm []byte) {
	r.mu.Lock()
	r.assistant = append(r.assistant, pcm...)
	r.mu.Unlock()
}

// Tracks returns copies of the recorded user and assistant PCM.
func (r *SessionRecorder) Tracks() (user, assistant []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.user...), append([]byte(nil), r.assistant...)
}

// WriteFiles stores both tracks as WAV files named <prefix>-user.wav and
// <prefix>-assistant.wav inside dir.
func (r *SessionRecorder) WriteFiles(dir, prefix string) (userPath, assistantPath string, err error) {
	user, assistant := r.Tracks()
	userPath = filepath.Join(dir, prefix+"-user.wav")
	assistantPath = filepath.Join(dir, prefix+"-assistant.wav")
	if err := WriteWAVFile(userPath, user, SampleRate); err != nil {
		return "", "", err
	}
	if err := WriteWAVFile(assistantPath, assistant, SampleRate); err != nil {
		return "", "", err
	}
	return userPath, assistantPath, nil
}
