package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "recording.wav", header.Filename)
		body, _ := io.ReadAll(file)
		assert.Equal(t, "RIFF", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  Bar one. Bar two. "}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(WithKey("test-key"), WithBaseURL(srv.URL+"/v1/"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	text, err := p.Transcribe(context.Background(), strings.NewReader("RIFF"), "recording.wav")
	require.NoError(t, err)
	assert.Equal(t, "Bar one. Bar two.", text)
}

func TestOpenAIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(WithKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Transcribe(context.Background(), strings.NewReader("x"), "recording.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestOpenAIProviderEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(WithKey("k"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = p.Transcribe(context.Background(), strings.NewReader("x"), "recording.wav")
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestOpenAIProviderKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider()
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "env-key")
	p, err := NewOpenAIProvider()
	require.NoError(t, err)
	assert.Equal(t, "env-key", p.apiKey)
	assert.Equal(t, "whisper-1", p.model)
}

func newTestLocalProvider(t *testing.T, output string, runErr error) (*LocalProvider, *[]string) {
	t.Helper()
	dir := t.TempDir()
	var args []string

	p := NewLocalProvider("whisper", "base.en", dir)
	p.resample = func(ctx context.Context, path string) (string, error) {
		out := strings.TrimSuffix(path, ".wav") + "_whisper.wav"
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return out, os.WriteFile(out, data, 0644)
	}
	p.run = func(ctx context.Context, name string, a ...string) ([]byte, error) {
		args = append([]string{name}, a...)
		return []byte(output), runErr
	}
	return p, &args
}

func TestLocalProviderTranscribe(t *testing.T) {
	p, args := newTestLocalProvider(t, "[00:00.000 --> 00:02.000] \n Bar one.\n[BLANK_AUDIO]\n\n Bar two.\n", nil)
	assert.Equal(t, "local", p.Name())

	text, err := p.Transcribe(context.Background(), strings.NewReader("RIFF"), "recording.wav")
	require.NoError(t, err)
	assert.Equal(t, "[00:00.000 --> 00:02.000] Bar one. Bar two.", text)

	require.Len(t, *args, 4)
	assert.Equal(t, []string{"whisper", "--model", "base.en"}, (*args)[:3])
	assert.True(t, strings.HasSuffix((*args)[3], "_whisper.wav"))

	// temp files are cleaned up
	left, err := filepath.Glob(filepath.Join(p.WorkDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestLocalProviderNoSpeech(t *testing.T) {
	p, _ := newTestLocalProvider(t, "[BLANK_AUDIO]\n\n", nil)

	_, err := p.Transcribe(context.Background(), strings.NewReader("RIFF"), "recording.wav")
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestLocalProviderCommandFailure(t *testing.T) {
	p, _ := newTestLocalProvider(t, "", errors.New("exit status 1"))

	_, err := p.Transcribe(context.Background(), strings.NewReader("RIFF"), "recording.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper execution failed")
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"empty", "", ""},
		{"blank audio only", " [BLANK_AUDIO]\n", ""},
		{"joins lines", "first\nsecond\n", "first second"},
		{"trims whitespace", "   spaced out   \n\n", "spaced out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractText(tt.output))
		})
	}
}
