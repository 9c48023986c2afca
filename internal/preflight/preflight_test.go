package preflight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/h2non/gock"
)

// These tests swap http.DefaultTransport through gock, so none of them run
// in parallel.

func fastChecker(attempts uint) *Checker {
	return New(Options{Attempts: attempts, Delay: time.Millisecond, Timeout: time.Second})
}

func TestCheckReachable(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Reply(200).BodyString("<html></html>")

	res, err := fastChecker(3).Check(context.Background(), "http://localhost:3000/")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Status != 200 || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	if !gock.IsDone() {
		t.Error("expected the mock to be consumed")
	}
}

func TestCheckRetriesUntilUp(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Times(2).Reply(503)
	gock.New("http://localhost:3000").Get("/").Reply(200)

	res, err := fastChecker(5).Check(context.Background(), "http://localhost:3000/")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestCheckClientErrorCountsAsReachable(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/missing").Reply(404)

	res, err := fastChecker(2).Check(context.Background(), "http://localhost:3000/missing")
	if err != nil || res.Status != 404 {
		t.Errorf("Check = %+v, %v", res, err)
	}
}

func TestCheckGivesUp(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Persist().Reply(502)

	_, err := fastChecker(3).Check(context.Background(), "http://localhost:3000/")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Status != 502 {
		t.Errorf("expected StatusError 502 in %v", err)
	}
}

func TestCheckConnectionError(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Persist().ReplyError(errors.New("connection refused"))

	_, err := fastChecker(2).Check(context.Background(), "http://localhost:3000/")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v", err)
	}
}

func TestCheckCancelled(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Persist().Reply(500)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{Attempts: 10, Delay: time.Second}).Check(ctx, "http://localhost:3000/")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCheckAll(t *testing.T) {
	defer gock.Off()
	gock.New("http://localhost:3000").Get("/").Reply(200)
	gock.New("http://127.0.0.1:8787").Get("/health").Persist().Reply(500)

	results, err := fastChecker(2).CheckAll(context.Background(),
		"http://localhost:3000/", "http://127.0.0.1:8787/health")
	if len(results) != 1 || results[0].URL != "http://localhost:3000/" {
		t.Errorf("results = %+v", results)
	}
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v", err)
	}
}

func TestBadURLIsNotRetried(t *testing.T) {
	c := fastChecker(5)
	_, err := c.Check(context.Background(), "://bad")
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Errorf("unexpected status error %v", err)
	}
	if !errors.Is(err, ErrUnreachable) || !strings.Contains(err.Error(), "after 1 attempts") {
		t.Errorf("err = %v, want a single attempt", err)
	}
}
