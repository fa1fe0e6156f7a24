package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/clipcast/publisher/internal/config"
	"github.com/clipcast/publisher/internal/model"
)

const (
	secretYTClientID     = "YT_CLIENT_ID"
	secretYTClientSecret = "YT_CLIENT_SECRET"
	secretYTRefreshToken = "YT_REFRESH_TOKEN"

	youtubeTokenURL  = "https://oauth2.googleapis.com/token"
	youtubeChunkSize = 1024 * 1024
	maxYouTubeTags   = 20
)

// YouTubePublisher uploads videos through the YouTube Data API using a
// long-lived OAuth refresh token.
type YouTubePublisher struct {
	cfg *config.YouTubeConfig
}

func NewYouTubePublisher(cfg *config.YouTubeConfig) *YouTubePublisher {
	return &YouTubePublisher{cfg: cfg}
}

func (p *YouTubePublisher) Platform() model.Platform {
	return model.PlatformYouTube
}

func (p *YouTubePublisher) CredentialKeys() []string {
	return []string{secretYTClientID, secretYTClientSecret, secretYTRefreshToken}
}

func (p *YouTubePublisher) tokenSource(ctx context.Context, creds model.Credentials) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     creds[secretYTClientID],
		ClientSecret: creds[secretYTClientSecret],
		Endpoint:     oauth2.Endpoint{TokenURL: youtubeTokenURL},
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds[secretYTRefreshToken]})
}

// Preflight forces a token refresh. A rejected refresh token surfaces here,
// before any upload bandwidth is spent.
func (p *YouTubePublisher) Preflight(ctx context.Context, creds model.Credentials) error {
	if _, err := p.tokenSource(ctx, creds).Token(); err != nil {
		return classifyYouTubeError(err)
	}
	return nil
}

func (p *YouTubePublisher) Upload(ctx context.Context, localPath string, meta model.VideoMeta, creds model.Credentials) (string, error) {
	svc, err := youtube.NewService(ctx, option.WithTokenSource(p.tokenSource(ctx, creds)))
	if err != nil {
		return "", classifyYouTubeError(err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", NewError(model.ErrKindFatal,
			"staged artifact unreadable; check temp storage on the worker host",
			fmt.Errorf("failed to open artifact: %w", err))
	}
	defer f.Close()

	tags := meta.Tags
	if len(tags) > maxYouTubeTags {
		tags = tags[:maxYouTubeTags]
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        tags,
			CategoryId:  p.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           p.cfg.PrivacyStatus,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformYouTube,
		"title":    meta.Title,
	}).Info("Starting YouTube upload")

	call := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f, googleapi.ChunkSize(youtubeChunkSize), googleapi.ContentType("video/*")).
		Context(ctx)

	resp, err := call.Do()
	if err != nil {
		return "", classifyYouTubeError(err)
	}

	logrus.WithFields(logrus.Fields{
		"platform": model.PlatformYouTube,
		"videoId":  resp.Id,
	}).Info("YouTube upload complete")

	return resp.Id, nil
}

// classifyYouTubeError maps API failures onto the error taxonomy. Quota
// reasons are checked before auth codes because quota violations also arrive
// as 403s.
func classifyYouTubeError(err error) *Error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return NewError(model.ErrKindTransientNetwork,
				"Google token endpoint unavailable; retry later", err)
		}
		return NewError(model.ErrKindInvalidCredential,
			"refresh token rejected; re-run the OAuth consent flow for the channel", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "uploadLimitExceeded", "quotaExceeded", "dailyLimitExceeded",
				"rateLimitExceeded", "userRateLimitExceeded":
				return NewError(model.ErrKindQuotaExceeded,
					"daily upload cap reached; verify the channel in YouTube Studio or wait for the quota reset", err)
			}
		}
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return NewError(model.ErrKindInvalidCredential,
				"YouTube rejected the credentials; re-run the OAuth consent flow for the channel", err)
		case gerr.Code >= 500:
			return NewError(model.ErrKindTransientNetwork,
				"YouTube API unavailable; retry later", err)
		default:
			return NewError(model.ErrKindFatal,
				"YouTube rejected the video; check the file format and metadata", err)
		}
	}

	var uerr *url.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &uerr) {
		return NewError(model.ErrKindTransientNetwork,
			"upload interrupted by a network failure; retry later", err)
	}

	return NewError(model.ErrKindFatal, "unexpected YouTube client failure", err)
}
