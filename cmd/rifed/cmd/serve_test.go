package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper/wrappertest"
	"github.com/psantana5/ffmpeg-rife/pkg/config"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		ListenAddr:  ":0",
		Storage:     t.TempDir(),
		RifeRepo:    "/opt/rife",
		PythonBin:   "python3",
		FFmpegBin:   "ffmpeg",
		CORSOrigins: []string{"http://localhost:5173"},
		APIKey:      "s3cret",
		MaxUploadMB: 1,
		RateLimit:   config.RateLimitConfig{RPS: 0.001, Burst: 2},
		Metrics:     config.MetricsConfig{Enabled: true},
	}
}

func framesRequest(t *testing.T, url, key string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range []string{"frame_a", "frame_b"} {
		fw, err := mw.CreateFormFile(f, f+".png")
		require.NoError(t, err)
		fw.Write([]byte("png"))
	}
	require.NoError(t, mw.WriteField("num_mid", "1"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/jobs/frames", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req
}

func TestAppEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(cfg, logging.Discard(), wrappertest.NewRunner(wrappertest.Tools(0)))
	require.NoError(t, err)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	// health is public
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// everything else needs the key
	resp, err = http.DefaultClient.Do(framesRequest(t, srv.URL, ""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.DefaultClient.Do(framesRequest(t, srv.URL, "s3cret"))
	require.NoError(t, err)
	var job models.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.JobStatusDone, job.Status)
	assert.Equal(t, 0, a.runningJobs())

	// burst of 2 is spent (one unauthorized, one accepted)
	resp, err = http.DefaultClient.Do(framesRequest(t, srv.URL, "s3cret"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `rifed_jobs_submitted_total{kind="frame-pair"} 1`)
	assert.Contains(t, string(body), `rifed_jobs_finished_total{kind="frame-pair",status="done"} 1`)
}

func TestAppCORSPreflight(t *testing.T) {
	a, err := newApp(testConfig(t), logging.Discard(), wrappertest.NewRunner(nil))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/jobs/frames", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfigShowRedactsKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RIFED_API_KEY", "s3cret")

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	require.NoError(t, runConfigShow(configShowCmd, nil))

	assert.Contains(t, out.String(), "<redacted>")
	assert.Contains(t, out.String(), "rife_repo: /opt/rife")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestServerTLS(t *testing.T) {
	cfg := testConfig(t)
	tc, err := serverTLS(cfg, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, tc)

	dir := t.TempDir()
	cfg.TLS = config.TLSConfig{
		CertFile:   filepath.Join(dir, "cert.pem"),
		KeyFile:    filepath.Join(dir, "key.pem"),
		SelfSigned: true,
		Hosts:      []string{"rife.local"},
	}
	tc, err = serverTLS(cfg, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Len(t, tc.Certificates, 1)
	assert.FileExists(t, cfg.TLS.KeyFile)

	cfg.TLS.SelfSigned = false
	cfg.TLS.KeyFile = filepath.Join(dir, "missing.pem")
	_, err = serverTLS(cfg, logging.Discard())
	assert.Error(t, err)
}
