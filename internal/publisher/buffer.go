package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clipcast/publisher/internal/caption"
	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
)

const secretBufferToken = "BUFFER_ACCESS_TOKEN"

// BufferPublisher queues a video update across every profile connected to a
// Buffer account. One update is created per profile in a single create call.
type BufferPublisher struct {
	baseURL    string
	httpClient *http.Client
}

func NewBufferPublisher(cfg *config.BufferConfig) *BufferPublisher {
	return &BufferPublisher{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (p *BufferPublisher) Platform() model.Platform {
	return model.PlatformBuffer
}

func (p *BufferPublisher) CredentialKeys() []string {
	return []string{secretBufferToken}
}

// Preflight verifies the access token by fetching the account it belongs to.
func (p *BufferPublisher) Preflight(ctx context.Context, creds model.Credentials) error {
	var user struct {
		ID string `json:"id"`
	}
	if err := p.getJSON(ctx, "/user.json", creds[secretBufferToken], &user); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformBuffer,
		"userId":   user.ID,
	}).Debug("Buffer preflight passed")

	return nil
}

type bufferProfile struct {
	ID       string `json:"_id"`
	Service  string `json:"service"`
	Username string `json:"formatted_username"`
}

func (p *BufferPublisher) Upload(ctx context.Context, localPath string, meta model.VideoMeta, creds model.Credentials) (string, error) {
	token := creds[secretBufferToken]

	var profiles []bufferProfile
	if err := p.getJSON(ctx, "/profiles.json", token, &profiles); err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "", NewError(model.ErrKindFatal,
			"no profiles connected to the Buffer account; connect at least one social account in Buffer",
			errors.New("buffer account has no profiles"))
	}

	profileIDs := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		profileIDs = append(profileIDs, profile.ID)
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformBuffer,
		"profiles": len(profileIDs),
	}).Info("Starting Buffer upload")

	mediaID, err := p.uploadMedia(ctx, token, localPath)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	for _, id := range profileIDs {
		form.Add("profile_ids[]", id)
	}
	form.Set("text", caption.Build(meta))
	form.Set("shorten", "false")
	form.Set("media[video]", mediaID)

	var result struct {
		Success bool `json:"success"`
		Updates []struct {
			ID string `json:"id"`
		} `json:"updates"`
	}
	if err := p.postForm(ctx, "/updates/create.json", token, form, &result); err != nil {
		return "", err
	}
	if !result.Success || len(result.Updates) == 0 {
		return "", NewError(model.ErrKindFatal,
			"Buffer accepted the media but created no updates; check the connected profiles",
			errors.New("update create returned no updates"))
	}

	updateIDs := make([]string, 0, len(result.Updates))
	for _, update := range result.Updates {
		updateIDs = append(updateIDs, update.ID)
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformBuffer,
		"updates":  len(updateIDs),
	}).Info("Buffer upload complete")

	return strings.Join(updateIDs, ","), nil
}

// uploadMedia streams the video through the media endpoint and returns the
// handle the update create call references.
func (p *BufferPublisher) uploadMedia(ctx context.Context, token, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", NewError(model.ErrKindFatal,
			"staged artifact unreadable; check temp storage on the worker host",
			fmt.Errorf("failed to open artifact: %w", err))
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("media", filepath.Base(localPath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/uploads.json", pr)
	if err != nil {
		return "", NewError(model.ErrKindFatal, "malformed Buffer API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result struct {
		MediaID string `json:"media_id"`
	}
	if err := p.doJSON(req, &result); err != nil {
		return "", err
	}
	if result.MediaID == "" {
		return "", NewError(model.ErrKindFatal,
			"Buffer returned an unexpected media upload response; check the API version",
			errors.New("media upload response carried no media_id"))
	}
	return result.MediaID, nil
}

func (p *BufferPublisher) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return NewError(model.ErrKindFatal, "malformed Buffer API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return p.doJSON(req, out)
}

func (p *BufferPublisher) postForm(ctx context.Context, path, token string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return NewError(model.ErrKindFatal, "malformed Buffer API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.doJSON(req, out)
}

func (p *BufferPublisher) doJSON(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyBufferTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyBufferTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyBufferResponse(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewError(model.ErrKindFatal,
			"Buffer returned an unexpected response; check the API version",
			fmt.Errorf("unexpected buffer response: %s", string(body)))
	}
	return nil
}

func classifyBufferTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(model.ErrKindTransientNetwork,
			"Buffer API request timed out; retry later", err)
	}
	return NewError(model.ErrKindTransientNetwork,
		"Buffer API unreachable; retry later", err)
}

func classifyBufferResponse(status int, body []byte) *Error {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &envelope)
	message := envelope.Error
	if message == "" {
		message = envelope.Message
	}

	cause := fmt.Errorf("buffer API error (status %d): %s", status, message)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(model.ErrKindInvalidCredential,
			"access token revoked or expired; create a new one in Buffer account settings", cause)
	case status == http.StatusTooManyRequests:
		return NewError(model.ErrKindQuotaExceeded,
			"Buffer API rate limit hit; wait for the window to reset before reposting", cause)
	case status >= 500:
		return NewError(model.ErrKindTransientNetwork,
			"Buffer API unavailable; retry later", cause)
	default:
		return NewError(model.ErrKindFatal,
			"Buffer rejected the update; check the media constraints for the connected profiles", cause)
	}
}
