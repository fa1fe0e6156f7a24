package model

import "testing"

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{JobStateSuccess, JobStatePartialSuccess, JobStateFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	live := []JobState{JobStateReceived, JobStateFetching, JobStateMetadataResolved, JobStatePublishing}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	for _, p := range ValidPlatforms {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	for _, p := range []Platform{"", "myspace", "YouTube"} {
		if p.Valid() {
			t.Errorf("%q should not be valid", p)
		}
	}
}

func TestOverallStatusJobState(t *testing.T) {
	cases := map[OverallStatus]JobState{
		StatusSuccess:        JobStateSuccess,
		StatusPartialSuccess: JobStatePartialSuccess,
		StatusFailed:         JobStateFailed,
	}
	for status, want := range cases {
		if got := status.JobState(); got != want {
			t.Errorf("%s.JobState() = %s, want %s", status, got, want)
		}
	}
}

func TestErrorKindIsJobFatal(t *testing.T) {
	jobFatal := []ErrorKind{ErrKindConfigurationError, ErrKindArtifactError}
	for _, k := range jobFatal {
		if !k.IsJobFatal() {
			t.Errorf("%s should be job fatal", k)
		}
	}

	perTarget := []ErrorKind{ErrKindQuotaExceeded, ErrKindInvalidCredential, ErrKindTransientNetwork, ErrKindFatal}
	for _, k := range perTarget {
		if k.IsJobFatal() {
			t.Errorf("%s should only fail its own target", k)
		}
	}
}

func TestOutcomeSucceeded(t *testing.T) {
	kind := ErrKindQuotaExceeded
	outcome := JobOutcome{
		Attempts: []PublishAttempt{
			{Platform: PlatformYouTube, State: AttemptSucceeded, ExternalID: "yt-1"},
			{Platform: PlatformFacebook, State: AttemptFailed, ErrorKind: &kind},
			{Platform: PlatformBuffer, State: AttemptNotAttempted},
		},
	}

	got := outcome.Succeeded()
	if len(got) != 1 {
		t.Fatalf("expected one succeeded entry, got %v", got)
	}
	if got[PlatformYouTube] != "yt-1" {
		t.Errorf("expected yt-1 for youtube, got %q", got[PlatformYouTube])
	}
}
