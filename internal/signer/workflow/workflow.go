// Package workflow drives a full submission: upload the package, wait for
// validation, create or update the add-on record, wait for approval, then
// download the signed artifact.
package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmitrijs2005/addonsign/internal/common"
	"github.com/dmitrijs2005/addonsign/internal/filex"
	"github.com/dmitrijs2005/addonsign/internal/logging"
	"github.com/dmitrijs2005/addonsign/internal/signer/config"
	"github.com/dmitrijs2005/addonsign/internal/signer/poll"
	"github.com/google/uuid"
)

// Requester is the slice of the API gateway the workflow needs.
type Requester interface {
	Do(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error)
	RequestJSON(ctx context.Context, method, url string, body io.Reader, contentType, errContext string) (map[string]any, error)
	JSON(ctx context.Context, method, url string, payload any, errContext string) (map[string]any, error)
}

// Poller waits for an asynchronous server-side stage to finish.
type Poller interface {
	WaitRetry(ctx context.Context, checkURL string, interval, timeout time.Duration, stage string, success poll.SuccessFunc) (string, error)
}

// FileSaver streams a response body to a local file.
type FileSaver interface {
	Save(r io.Reader, dest string) error
}

// IDPersister records a freshly generated add-on id.
type IDPersister interface {
	Save(path, id string) error
}

// ValidationError is the terminal outcome of a validation poll whose result
// came back invalid. DetailsURL points at the human-readable review report.
type ValidationError struct {
	DetailsURL string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed, see %s for details", e.DetailsURL)
}

// SignResult is the final output of a successful run.
type SignResult struct {
	ID              string
	DownloadedFiles []string
}

// Submission owns one run. It is not safe for concurrent use; each
// invocation gets its own instance, credentials and timers.
type Submission struct {
	cfg    *config.Config
	api    Requester
	poller Poller
	files  FileSaver
	ids    IDPersister
	log    logging.Logger

	base *url.URL
}

func NewSubmission(cfg *config.Config, api Requester, poller Poller, files FileSaver, ids IDPersister, log logging.Logger) (*Submission, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("%w: base URL %q is not an absolute URL", common.ErrConfiguration, cfg.BaseURL)
	}
	return &Submission{cfg: cfg, api: api, poller: poller, files: files, ids: ids, log: log, base: base}, nil
}

// endpoint resolves parts under "<base>/addons/". A trailing slash on the
// last part is preserved, which the API requires.
func (s *Submission) endpoint(parts ...string) string {
	return s.base.JoinPath(append([]string{"addons"}, parts...)...).String()
}

// Run executes the whole state machine. Any error aborts the run; nothing is
// retried beyond the two polling stages' own "not yet done" signal.
func (s *Submission) Run(ctx context.Context) (*SignResult, error) {
	uploadID, err := s.upload(ctx)
	if err != nil {
		return nil, err
	}

	validated, err := s.waitValidated(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	var recordID, versionID string
	if s.cfg.Guid == "" {
		recordID, versionID, err = s.create(ctx, validated)
	} else {
		recordID, versionID, err = s.update(ctx, validated)
	}
	if err != nil {
		return nil, err
	}

	fileURL, err := s.waitApproved(ctx, recordID, versionID)
	if err != nil {
		return nil, err
	}

	name, err := s.download(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	return &SignResult{ID: recordID, DownloadedFiles: []string{name}}, nil
}

// upload POSTs the package as multipart form data and returns the upload
// handle the server assigned.
func (s *Submission) upload(ctx context.Context) (string, error) {
	f, err := os.Open(s.cfg.XpiPath)
	if err != nil {
		return "", fmt.Errorf("opening package %s: %w", s.cfg.XpiPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("channel", s.channel()); err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	part, err := mw.CreateFormFile("upload", filepath.Base(s.cfg.XpiPath))
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("reading package %s: %w", s.cfg.XpiPath, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}

	resp, err := s.api.RequestJSON(ctx, http.MethodPost, s.endpoint("upload/"), &buf, mw.FormDataContentType(), "uploading package")
	if err != nil {
		return "", err
	}

	raw, _ := resp["uuid"].(string)
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("uploading package: %w: uuid %q", common.ErrMissingField, raw)
	}

	s.log.Info(ctx, "package uploaded", "uuid", raw, "channel", s.channel())
	return raw, nil
}

// waitValidated polls the upload's status endpoint until processing finishes.
// A processed-but-invalid result is terminal.
func (s *Submission) waitValidated(ctx context.Context, uploadID string) (string, error) {
	return s.poller.WaitRetry(ctx, s.endpoint("upload", uploadID+"/"),
		s.cfg.ValidationCheckInterval, s.cfg.ValidationTimeout, "validation",
		func(resp map[string]any) (string, bool, error) {
			processed, _ := resp["processed"].(bool)
			if !processed {
				return "", false, nil
			}
			if valid, _ := resp["valid"].(bool); !valid {
				details, _ := resp["url"].(string)
				return "", false, &ValidationError{DetailsURL: details}
			}
			id, _ := resp["uuid"].(string)
			return id, true, nil
		})
}

// versionBody merges the caller's metadata with the validated upload handle.
// A caller-supplied "version" object is preserved, only its upload is set.
func (s *Submission) versionBody(uploadID string) map[string]any {
	body := make(map[string]any, len(s.cfg.Metadata)+1)
	for k, v := range s.cfg.Metadata {
		body[k] = v
	}

	version := map[string]any{}
	if mv, ok := body["version"].(map[string]any); ok {
		for k, v := range mv {
			version[k] = v
		}
	}
	version["upload"] = uploadID
	body["version"] = version

	return body
}

// create registers a brand-new add-on record, persists the generated id and
// tells the user what to put in their manifest.
func (s *Submission) create(ctx context.Context, uploadID string) (recordID, versionID string, err error) {
	resp, err := s.api.JSON(ctx, http.MethodPost, s.endpoint("addon/"), s.versionBody(uploadID), "creating add-on")
	if err != nil {
		return "", "", err
	}

	recordID, _ = resp["guid"].(string)
	if recordID == "" {
		return "", "", fmt.Errorf("creating add-on: %w: guid", common.ErrMissingField)
	}

	versionKey := "latest_unlisted_version"
	if s.channel() == config.ChannelListed {
		versionKey = "current_version"
	}
	version, _ := resp[versionKey].(map[string]any)
	versionID = idString(version["id"])
	if versionID == "" {
		return "", "", fmt.Errorf("creating add-on: %w: %s.id", common.ErrMissingField, versionKey)
	}

	if err := s.ids.Save(s.cfg.IDFile, recordID); err != nil {
		return "", "", fmt.Errorf("saving extension id: %w", err)
	}

	s.log.Info(ctx, "generated a new extension id", "id", recordID, "file", s.cfg.IDFile)
	s.log.Info(ctx, "add the id to your manifest",
		"snippet", fmt.Sprintf(`"browser_specific_settings": {"gecko": {"id": %q}}`, recordID))

	return recordID, versionID, nil
}

// update PUTs the new version onto an existing record, then resolves the
// created version id from the record's version listing (the PUT response
// itself carries only a status).
func (s *Submission) update(ctx context.Context, uploadID string) (recordID, versionID string, err error) {
	recordID = s.cfg.Guid

	if _, err := s.api.JSON(ctx, http.MethodPut, s.endpoint("addon", recordID+"/"), s.versionBody(uploadID), "updating add-on"); err != nil {
		return "", "", err
	}

	listing := s.endpoint("addon", recordID, "versions/") + "?filter=all_with_unlisted"
	resp, err := s.api.JSON(ctx, http.MethodGet, listing, nil, "listing versions")
	if err != nil {
		return "", "", err
	}

	results, _ := resp["results"].([]any)
	if len(results) == 0 {
		return "", "", fmt.Errorf("listing versions: %w: results", common.ErrMissingField)
	}
	first, _ := results[0].(map[string]any)
	versionID = idString(first["id"])
	if versionID == "" {
		return "", "", fmt.Errorf("listing versions: %w: results[0].id", common.ErrMissingField)
	}

	return recordID, versionID, nil
}

// waitApproved polls the version detail endpoint until its file goes public.
// There is no terminal-failure branch here, only success or timeout.
func (s *Submission) waitApproved(ctx context.Context, recordID, versionID string) (string, error) {
	return s.poller.WaitRetry(ctx, s.endpoint("addon", recordID, "versions", versionID+"/"),
		s.cfg.ApprovalCheckInterval, s.cfg.ApprovalTimeout, "approval",
		func(resp map[string]any) (string, bool, error) {
			file, _ := resp["file"].(map[string]any)
			if status, _ := file["status"].(string); status != "public" {
				return "", false, nil
			}
			fileURL, _ := file["url"].(string)
			return fileURL, true, nil
		})
}

// download fetches the signed file and writes it into the download
// directory, named after the last path segment of the signed URL. Stream
// failures are logged in full but surfaced as a generic error.
func (s *Submission) download(ctx context.Context, fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("downloading signed file: bad url %q: %w", fileURL, err)
	}
	name := path.Base(u.Path)

	resp, err := s.api.Do(ctx, http.MethodGet, fileURL, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("downloading signed file from %s: %s", fileURL, resp.Status)
	}

	if err := filex.EnsureDir(s.cfg.DownloadDir); err != nil {
		return "", err
	}

	dest := filepath.Join(s.cfg.DownloadDir, name)
	if err := s.files.Save(resp.Body, dest); err != nil {
		s.log.Error(ctx, "saving signed file failed", "file", name, "dest", dest, "error", err)
		return "", fmt.Errorf("downloading %s failed", name)
	}

	s.log.Info(ctx, "downloaded signed file", "file", dest)
	return name, nil
}

func (s *Submission) channel() string {
	if s.cfg.Channel == config.ChannelListed {
		return config.ChannelListed
	}
	return "unlisted"
}

// idString renders a version id that may arrive as a JSON number or string.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}
