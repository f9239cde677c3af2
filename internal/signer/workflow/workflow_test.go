package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/logging"
	"github.com/dmitrijs2005/addonsign/internal/signer/api"
	"github.com/dmitrijs2005/addonsign/internal/signer/auth"
	"github.com/dmitrijs2005/addonsign/internal/signer/config"
	"github.com/dmitrijs2005/addonsign/internal/signer/poll"
	"github.com/dmitrijs2005/addonsign/internal/signer/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "d5d0a132-a8d8-4a25-bbe4-8e0b1c7f31a2"

type recordingPersister struct {
	path  string
	id    string
	calls int
}

func (r *recordingPersister) Save(path, id string) error {
	r.calls++
	r.path = path
	r.id = id
	return nil
}

type failingSaver struct{}

func (failingSaver) Save(r io.Reader, dest string) error {
	return os.ErrPermission
}

// amoServer is a scripted stand-in for the review service. Counters make the
// polling sequences deterministic: the first validation poll reports
// unprocessed, the first approval poll reports pending.
type amoServer struct {
	t   *testing.T
	srv *httptest.Server

	uploadChannel   string
	uploadFilename  string
	validationPolls int
	approvalPolls   int
	createBody      map[string]any
	updateBody      map[string]any
	listingQuery    string
	approvedVersion string
	downloads       int

	guid string
}

func newAMOServer(t *testing.T, guid string) *amoServer {
	t.Helper()

	a := &amoServer{t: t, guid: guid}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v4/addons/upload/{$}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		a.uploadChannel = r.FormValue("channel")
		f, header, err := r.FormFile("upload")
		require.NoError(t, err)
		f.Close()
		a.uploadFilename = header.Filename
		writeJSON(w, map[string]any{"uuid": testUUID})
	})

	mux.HandleFunc("GET /api/v4/addons/upload/{uuid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testUUID, r.PathValue("uuid"))
		a.validationPolls++
		if a.validationPolls == 1 {
			writeJSON(w, map[string]any{"processed": false})
			return
		}
		writeJSON(w, map[string]any{"processed": true, "valid": true, "uuid": testUUID})
	})

	mux.HandleFunc("POST /api/v4/addons/addon/{$}", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a.createBody))
		writeJSON(w, map[string]any{
			"guid":                    a.guid,
			"current_version":         map[string]any{"id": 1001},
			"latest_unlisted_version": map[string]any{"id": 9},
		})
	})

	mux.HandleFunc("PUT /api/v4/addons/addon/{guid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, a.guid, r.PathValue("guid"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a.updateBody))
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /api/v4/addons/addon/{guid}/versions/{$}", func(w http.ResponseWriter, r *http.Request) {
		a.listingQuery = r.URL.RawQuery
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"id": 2002},
			map[string]any{"id": 1},
		}})
	})

	mux.HandleFunc("GET /api/v4/addons/addon/{guid}/versions/{vid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		a.approvedVersion = r.PathValue("vid")
		a.approvalPolls++
		if a.approvalPolls == 1 {
			writeJSON(w, map[string]any{"file": map[string]any{"status": "pending"}})
			return
		}
		writeJSON(w, map[string]any{"file": map[string]any{
			"status": "public",
			"url":    a.srv.URL + "/files/signed.xpi",
		}})
	})

	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		a.downloads++
		_, _ = w.Write([]byte("signed bytes"))
	})

	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	xpi := filepath.Join(dir, "ext.xpi")
	require.NoError(t, os.WriteFile(xpi, []byte("zip content"), 0o644))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.APIKey = "user:1:2"
	cfg.APISecret = "secret"
	cfg.BaseURL = baseURL
	cfg.XpiPath = xpi
	cfg.DownloadDir = filepath.Join(dir, "artifacts")
	cfg.IDFile = filepath.Join(dir, ".web-extension-id")
	cfg.ValidationCheckInterval = time.Millisecond
	cfg.ValidationTimeout = 2 * time.Second
	cfg.ApprovalCheckInterval = time.Millisecond
	cfg.ApprovalTimeout = 2 * time.Second
	return cfg
}

func newSubmission(t *testing.T, cfg *config.Config, srv *httptest.Server, files FileSaver, ids IDPersister) *Submission {
	t.Helper()

	log := testLogger()
	signer := auth.NewSigner(auth.Credentials{Issuer: cfg.APIKey, Secret: []byte(cfg.APISecret)}, cfg.TokenTTL)
	client := api.NewClient(srv.Client(), signer, cfg.UserAgent, log)
	waiter := poll.NewWaiter(client, poll.RealClock(), log)

	s, err := NewSubmission(cfg, client, waiter, files, ids, log)
	require.NoError(t, err)
	return s
}

func TestRun_CreatePath_Listed(t *testing.T) {
	amo := newAMOServer(t, "@generated-id")
	cfg := testConfig(t, amo.srv.URL+"/api/v4/")
	cfg.Channel = "listed"
	cfg.Metadata = map[string]any{"summary": map[string]any{"en-US": "A test add-on"}}

	ids := &recordingPersister{}
	s := newSubmission(t, cfg, amo.srv, transfer.NewWriter(), ids)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "@generated-id", result.ID)
	assert.Equal(t, []string{"signed.xpi"}, result.DownloadedFiles)

	// upload carried channel and file
	assert.Equal(t, "listed", amo.uploadChannel)
	assert.Equal(t, "ext.xpi", amo.uploadFilename)

	// exactly one retry cycle per polling stage
	assert.Equal(t, 2, amo.validationPolls)
	assert.Equal(t, 2, amo.approvalPolls)

	// create body merged metadata with the validated upload
	version := amo.createBody["version"].(map[string]any)
	assert.Equal(t, testUUID, version["upload"])
	assert.Contains(t, amo.createBody, "summary")

	// listed channel selects current_version
	assert.Equal(t, "1001", amo.approvedVersion)

	// generated id persisted
	assert.Equal(t, 1, ids.calls)
	assert.Equal(t, cfg.IDFile, ids.path)
	assert.Equal(t, "@generated-id", ids.id)

	// artifact written into the download dir
	data, err := os.ReadFile(filepath.Join(cfg.DownloadDir, "signed.xpi"))
	require.NoError(t, err)
	assert.Equal(t, "signed bytes", string(data))
}

func TestRun_CreatePath_UnlistedSelectsUnlistedVersion(t *testing.T) {
	amo := newAMOServer(t, "@generated-id")
	cfg := testConfig(t, amo.srv.URL+"/api/v4/")
	cfg.Channel = "unlisted"

	s := newSubmission(t, cfg, amo.srv, transfer.NewWriter(), &recordingPersister{})

	result, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@generated-id", result.ID)
	assert.Equal(t, "unlisted", amo.uploadChannel)
	assert.Equal(t, "9", amo.approvedVersion)
}

func TestRun_UpdatePath(t *testing.T) {
	amo := newAMOServer(t, "@existing-id")
	cfg := testConfig(t, amo.srv.URL+"/api/v4/")
	cfg.Guid = "@existing-id"

	ids := &recordingPersister{}
	s := newSubmission(t, cfg, amo.srv, transfer.NewWriter(), ids)

	result, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "@existing-id", result.ID)
	assert.Equal(t, []string{"signed.xpi"}, result.DownloadedFiles)

	// update body carried the validated upload
	version := amo.updateBody["version"].(map[string]any)
	assert.Equal(t, testUUID, version["upload"])

	// version id comes from the first listing entry, unlisted included
	assert.Equal(t, "filter=all_with_unlisted", amo.listingQuery)
	assert.Equal(t, "2002", amo.approvedVersion)

	// the update path never writes an id file
	assert.Zero(t, ids.calls)
}

func TestRun_ValidationRejectionIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/addons/upload/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"uuid": testUUID})
	})
	creates := 0
	mux.HandleFunc("POST /api/v4/addons/addon/{$}", func(w http.ResponseWriter, r *http.Request) {
		creates++
	})
	mux.HandleFunc("GET /api/v4/addons/upload/{uuid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"processed": true,
			"valid":     false,
			"url":       "https://reviewers.example.org/validation/42",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/api/v4/")
	s := newSubmission(t, cfg, srv, transfer.NewWriter(), &recordingPersister{})

	_, err := s.Run(context.Background())

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "https://reviewers.example.org/validation/42", valErr.DetailsURL)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Zero(t, creates, "no record may be created after a rejection")
}

func TestRun_MalformedUploadUUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v4/addons/upload/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"uuid": "not-a-uuid"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/api/v4/")
	s := newSubmission(t, cfg, srv, transfer.NewWriter(), &recordingPersister{})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploading package")
}

func TestRun_DownloadStreamFailureIsGeneric(t *testing.T) {
	amo := newAMOServer(t, "@generated-id")
	cfg := testConfig(t, amo.srv.URL+"/api/v4/")

	var logBuf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&logBuf, nil)))

	signer := auth.NewSigner(auth.Credentials{Issuer: cfg.APIKey, Secret: []byte(cfg.APISecret)}, cfg.TokenTTL)
	client := api.NewClient(amo.srv.Client(), signer, cfg.UserAgent, log)
	waiter := poll.NewWaiter(client, poll.RealClock(), log)

	s, err := NewSubmission(cfg, client, waiter, failingSaver{}, &recordingPersister{}, log)
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.Error(t, err)

	// generic message to the caller, full detail in the log
	assert.Equal(t, "downloading signed.xpi failed", err.Error())
	assert.NotContains(t, err.Error(), "permission")
	assert.Contains(t, logBuf.String(), "permission denied")
}

func TestRun_DownloadBadStatus(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /api/v4/addons/upload/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"uuid": testUUID})
	})
	mux.HandleFunc("GET /api/v4/addons/upload/{uuid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"processed": true, "valid": true, "uuid": testUUID})
	})
	mux.HandleFunc("POST /api/v4/addons/addon/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"guid":                    "@g",
			"latest_unlisted_version": map[string]any{"id": 9},
		})
	})
	mux.HandleFunc("GET /api/v4/addons/addon/{guid}/versions/{vid}/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"file": map[string]any{
			"status": "public",
			"url":    srv.URL + "/files/gone.xpi",
		}})
	})
	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/api/v4/")
	s := newSubmission(t, cfg, srv, transfer.NewWriter(), &recordingPersister{})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downloading signed file")
}

func TestNewSubmission_BadBaseURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.BaseURL = "/relative/"

	_, err := NewSubmission(cfg, nil, nil, nil, nil, testLogger())
	require.Error(t, err)
}
