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

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
)

const (
	secretFBPageID    = "FB_PAGE_ID"
	secretFBPageToken = "FB_PAGE_TOKEN"
)

// requiredFBPermissions must all be granted on the page token or video
// publishes fail with opaque OAuth errors mid-upload.
var requiredFBPermissions = []string{
	"pages_manage_posts",
	"pages_read_engagement",
	"publish_video",
}

// FacebookPublisher posts videos to a page feed through the Graph API.
// Uploads go to the dedicated graph-video host, everything else to the
// regular graph host.
type FacebookPublisher struct {
	graphURL      string
	graphVideoURL string
	httpClient    *http.Client
}

func NewFacebookPublisher(cfg *config.FacebookConfig) *FacebookPublisher {
	return &FacebookPublisher{
		graphURL:      strings.TrimSuffix(cfg.GraphBaseURL, "/"),
		graphVideoURL: strings.TrimSuffix(cfg.GraphVideoBaseURL, "/"),
		// No client-level timeout; request contexts carry the deadlines.
		httpClient: &http.Client{},
	}
}

func (p *FacebookPublisher) Platform() model.Platform {
	return model.PlatformFacebook
}

func (p *FacebookPublisher) CredentialKeys() []string {
	return []string{secretFBPageID, secretFBPageToken}
}

type fbErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

type fbPermissionsResponse struct {
	Data []struct {
		Permission string `json:"permission"`
		Status     string `json:"status"`
	} `json:"data"`
}

// Preflight checks that the page token resolves to an identity and carries
// every permission video publishing needs.
func (p *FacebookPublisher) Preflight(ctx context.Context, creds model.Credentials) error {
	token := creds[secretFBPageToken]

	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := p.getJSON(ctx, p.graphURL+"/me", token, &me); err != nil {
		return err
	}

	var perms fbPermissionsResponse
	if err := p.getJSON(ctx, p.graphURL+"/me/permissions", token, &perms); err != nil {
		return err
	}

	granted := make(map[string]bool, len(perms.Data))
	for _, entry := range perms.Data {
		if entry.Status == "granted" {
			granted[entry.Permission] = true
		}
	}

	var missing []string
	for _, perm := range requiredFBPermissions {
		if !granted[perm] {
			missing = append(missing, perm)
		}
	}
	if len(missing) > 0 {
		return NewError(model.ErrKindInvalidCredential,
			fmt.Sprintf("page token is missing permissions %s; reissue it with those scopes granted", strings.Join(missing, ", ")),
			fmt.Errorf("page token lacks permissions: %s", strings.Join(missing, ", ")))
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformFacebook,
		"page":     me.Name,
	}).Debug("Facebook preflight passed")

	return nil
}

func (p *FacebookPublisher) Upload(ctx context.Context, localPath string, meta model.VideoMeta, creds model.Credentials) (string, error) {
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
		pw.CloseWithError(p.writeVideoForm(mw, f, localPath, meta, creds))
	}()

	endpoint := fmt.Sprintf("%s/%s/videos", p.graphVideoURL, creds[secretFBPageID])
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", NewError(model.ErrKindFatal, "malformed Graph API request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformFacebook,
		"title":    meta.Title,
	}).Info("Starting Facebook upload")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyFacebookTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyFacebookTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyFacebookResponse(resp, body)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.ID == "" {
		return "", NewError(model.ErrKindFatal,
			"Graph API returned an unexpected upload response; check the API version",
			fmt.Errorf("unexpected upload response: %s", string(body)))
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformFacebook,
		"videoId":  result.ID,
	}).Info("Facebook upload complete")

	return result.ID, nil
}

// writeVideoForm streams the multipart body. The token and metadata fields
// must precede the file part so the Graph API can reject bad requests before
// reading the video bytes.
func (p *FacebookPublisher) writeVideoForm(mw *multipart.Writer, f *os.File, localPath string, meta model.VideoMeta, creds model.Credentials) error {
	fields := map[string]string{
		"access_token": creds[secretFBPageToken],
		"description":  meta.Title + "\n\n" + meta.Description,
		"title":        meta.Title,
		"published":    "true",
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("source", filepath.Base(localPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func (p *FacebookPublisher) getJSON(ctx context.Context, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?access_token="+url.QueryEscape(token), nil)
	if err != nil {
		return NewError(model.ErrKindFatal, "malformed Graph API request", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyFacebookTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyFacebookTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyFacebookResponse(resp, body)
	}
	return json.Unmarshal(body, out)
}

func classifyFacebookTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(model.ErrKindTransientNetwork,
			"Graph API request timed out; retry later", err)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return NewError(model.ErrKindTransientNetwork,
			"Graph API unreachable; retry later", err)
	}
	return NewError(model.ErrKindTransientNetwork, "Graph API request failed; retry later", err)
}

// classifyFacebookResponse maps Graph error codes onto the taxonomy. The
// fbtrace_id is logged because Meta support asks for it on every ticket.
func classifyFacebookResponse(resp *http.Response, body []byte) *Error {
	var envelope fbErrorResponse
	_ = json.Unmarshal(body, &envelope)

	traceID := envelope.Error.FBTraceID
	if traceID == "" {
		traceID = resp.Header.Get("x-fb-trace-id")
	}
	logrus.WithFields(logrus.Fields{
		"platform":  model.PlatformFacebook,
		"status":    resp.StatusCode,
		"graphCode": envelope.Error.Code,
		"fbtraceId": traceID,
	}).Warn("Graph API error response")

	cause := fmt.Errorf("graph API error (code %d, status %d): %s",
		envelope.Error.Code, resp.StatusCode, envelope.Error.Message)

	switch {
	case envelope.Error.Code == 190:
		return NewError(model.ErrKindInvalidCredential,
			"page token invalid or expired; reissue the page token", cause)
	case envelope.Error.Code == 4 || envelope.Error.Code == 17 ||
		envelope.Error.Code == 32 || envelope.Error.Code == 613:
		return NewError(model.ErrKindQuotaExceeded,
			"Graph API rate limit hit; wait for the window to reset before reposting", cause)
	case resp.StatusCode >= 500:
		return NewError(model.ErrKindTransientNetwork,
			"Graph API unavailable; retry later", cause)
	case resp.StatusCode == http.StatusUnauthorized:
		return NewError(model.ErrKindInvalidCredential,
			"page token invalid or expired; reissue the page token", cause)
	default:
		return NewError(model.ErrKindFatal,
			"Graph API rejected the video; check the page settings and file format", cause)
	}
}
