package meeting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	call    string
	outcome string
}

type stubObserver struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (s *stubObserver) ObserveGatewayCall(call, outcome string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedCall{call: call, outcome: outcome})
}

func TestChecksumMatchesKnownValue(t *testing.T) {
	params := url.Values{}
	params.Set("name", "Math")
	params.Set("meetingID", "42")

	assert.Equal(t, "1240a96ce31830c3fe4d6dec035a378262552b74", Checksum("create", params, "shh"))
}

func TestURLAppendsChecksumAfterSortedQuery(t *testing.T) {
	client := NewClient("http://host/api/", "shh", time.Second)
	params := url.Values{}
	params.Set("name", "Math")
	params.Set("meetingID", "42")

	got := client.URL(CallCreate, params)
	assert.Equal(t, "http://host/api/create?meetingID=42&name=Math&checksum=1240a96ce31830c3fe4d6dec035a378262552b74", got)
}

// verifyChecksum recomputes the checksum the way the host does.
func verifyChecksum(t *testing.T, r *http.Request, secret string) {
	t.Helper()
	call := strings.TrimPrefix(r.URL.Path, "/api/")
	raw := r.URL.RawQuery
	idx := strings.LastIndex(raw, "&checksum=")
	require.NotEqual(t, -1, idx, "checksum missing")
	sum := raw[idx+len("&checksum="):]
	values, err := url.ParseQuery(raw[:idx])
	require.NoError(t, err)
	assert.Equal(t, Checksum(call, values, secret), sum)
}

func TestCreateRoomSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyChecksum(t, r, "secret")
		q := r.URL.Query()
		assert.Equal(t, "/api/create", r.URL.Path)
		assert.Equal(t, "1001", q.Get("meetingID"))
		assert.Equal(t, "Algebra", q.Get("name"))
		assert.Equal(t, "mod", q.Get("moderatorPW"))
		assert.Equal(t, "att", q.Get("attendeePW"))
		assert.Equal(t, "http://cb/end?token=x", q.Get("meta_endCallbackUrl"))
		assert.Equal(t, "45", q.Get("duration"))
		_, _ = w.Write([]byte(`<response><returncode>SUCCESS</returncode><meetingID>1001</meetingID><attendeePW>att</attendeePW><moderatorPW>mod</moderatorPW><messageKey></messageKey><message></message></response>`))
	}))
	defer srv.Close()

	obs := &stubObserver{}
	client := NewClient(srv.URL+"/api", "secret", time.Second, WithObserver(obs))
	res, err := client.CreateRoom(context.Background(), CreateParams{
		RoomID:          1001,
		Name:            "Algebra",
		ModeratorSecret: "mod",
		AttendeeSecret:  "att",
		EndCallbackURL:  "http://cb/end?token=x",
		DurationMinutes: 45,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "mod", res.ModeratorSecret)
	assert.Equal(t, "att", res.AttendeeSecret)
	require.Len(t, obs.calls, 1)
	assert.Equal(t, recordedCall{call: CallCreate, outcome: OutcomeSuccess}, obs.calls[0])
}

func TestCreateRoomRejectedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<response><returncode>FAILED</returncode><messageKey>checksumError</messageKey><message>bad checksum</message></response>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api", "secret", time.Second)
	res, err := client.CreateRoom(context.Background(), CreateParams{RoomID: 1, Name: "x"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "checksumError", res.MessageKey)
}

func TestGatewayUnavailableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api", "secret", time.Second)
	_, err := client.CreateRoom(context.Background(), CreateParams{RoomID: 1, Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
}

func TestGatewayUnavailableOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL+"/api", "secret", 50*time.Millisecond)
	_, err := client.IsRunning(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops`))
	}))
	defer srv.Close()

	obs := &stubObserver{}
	client := NewClient(srv.URL+"/api", "secret", time.Second, WithObserver(obs))
	_, err := client.EndRoom(context.Background(), 1, "mod")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	require.Len(t, obs.calls, 1)
	assert.Equal(t, OutcomeMalformed, obs.calls[0].outcome)
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifyChecksum(t, r, "secret")
		if r.URL.Query().Get("meetingID") == "5" {
			_, _ = w.Write([]byte(`<response><returncode>SUCCESS</returncode><running>true</running></response>`))
			return
		}
		_, _ = w.Write([]byte(`<response><returncode>SUCCESS</returncode><running>false</running></response>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api", "secret", time.Second)
	running, err := client.IsRunning(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = client.IsRunning(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestMeetingInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("meetingID") == "404" {
			_, _ = w.Write([]byte(`<response><returncode>FAILED</returncode><messageKey>notFound</messageKey></response>`))
			return
		}
		_, _ = w.Write([]byte(`<response><returncode>SUCCESS</returncode><meetingName>Algebra</meetingName><meetingID>9</meetingID><running>true</running><participantCount>4</participantCount><moderatorCount>1</moderatorCount><duration>60</duration></response>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api", "secret", time.Second)
	info, err := client.MeetingInfo(context.Background(), 9, "mod")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", info.MeetingName)
	assert.True(t, info.Running)
	assert.Equal(t, 4, info.ParticipantCount)
	assert.Equal(t, 60, info.Duration)

	_, err = client.MeetingInfo(context.Background(), 404, "mod")
	assert.True(t, errors.Is(err, ErrMeetingNotFound))
}

func TestJoinURL(t *testing.T) {
	client := NewClient("http://host/api", "secret", time.Second)
	link := client.JoinURL(77, "Ada Lovelace", "u-1", "att")

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "/api/join", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "77", q.Get("meetingID"))
	assert.Equal(t, "Ada Lovelace", q.Get("fullName"))
	assert.Equal(t, "u-1", q.Get("userID"))
	assert.Equal(t, "att", q.Get("password"))
	assert.Equal(t, "true", q.Get("redirect"))

	checksum := q.Get("checksum")
	q.Del("checksum")
	assert.Equal(t, Checksum(CallJoin, q, "secret"), checksum)
}
