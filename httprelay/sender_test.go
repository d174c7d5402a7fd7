package httprelay_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/httprelay"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/signature"
)

func newSender(cfg httprelay.Config) *httprelay.Sender {
	return httprelay.NewSender(cfg, nil, nil)
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody, receivedMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		receivedMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{
			"url":           srv.URL + "/hook",
			"X-Trace":       "abc",
			"sender":        "svc-a",
			"groupId":       "g1",
			"Authorization": "Bearer t",
		},
		Body: `{"hello":"world"}`,
	})

	if !res.Success || !res.Delivered() {
		t.Fatalf("expected delivered, got %+v", res)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if res.Response != `{"ok":true}` {
		t.Fatalf("response = %q", res.Response)
	}
	if receivedMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", receivedMethod)
	}
	if receivedBody != `{"hello":"world"}` {
		t.Fatalf("body = %q", receivedBody)
	}
	if receivedHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", receivedHeaders.Get("Content-Type"))
	}
	if receivedHeaders.Get("X-Trace") != "abc" || receivedHeaders.Get("Authorization") != "Bearer t" {
		t.Fatal("forwarding headers missing")
	}
	for _, k := range []string{"url", "sender", "groupId"} {
		if receivedHeaders.Get(k) != "" {
			t.Fatalf("metadata header %q must not be forwarded", k)
		}
	}
}

func TestSenderSignsBody(t *testing.T) {
	var verifyErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		verifyErr = signature.VerifyRequest(r.Header, b, "csec_hook", time.Minute)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{SigningSecret: "csec_hook"}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"url": srv.URL, signature.HeaderSignature: "v1=forged"},
		Body:    `{"amount":1}`,
	})
	if !res.Delivered() {
		t.Fatalf("expected delivered, got %+v", res)
	}
	if verifyErr != nil {
		t.Fatalf("receiver rejected signature: %v", verifyErr)
	}
}

func TestSenderURLKeyPrecedence(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{
			"url":         "  ",
			"TARGET-URL":  srv.URL,
			"destination": "http://unused.invalid",
		},
	})
	if !res.Delivered() || hits.Load() != 1 {
		t.Fatalf("expected target-url to win, got %+v", res)
	}
}

func TestSenderGetHasNoBody(t *testing.T) {
	var length int64 = -2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		length = r.ContentLength
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"url": srv.URL, "method": "get"},
		Body:    "ignored",
	})
	if !res.Delivered() {
		t.Fatalf("expected delivered, got %+v", res)
	}
	if length != 0 {
		t.Fatalf("GET carried a body of length %d", length)
	}
}

func TestSenderMissingURL(t *testing.T) {
	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"method": "POST"},
	})
	if res.Success || res.StatusCode != 0 {
		t.Fatalf("expected failure with status 0, got %+v", res)
	}
	if !strings.Contains(res.Error, "url") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSenderInvalidMethod(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"url": srv.URL, "method": "FETCH"},
	})
	if res.Success || !strings.Contains(res.Error, "FETCH") {
		t.Fatalf("expected invalid method failure, got %+v", res)
	}
	if hits.Load() != 0 {
		t.Fatal("no request should reach the server")
	}
}

func TestSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"url": srv.URL},
	})
	if res.Success || res.Delivered() {
		t.Fatal("4xx must not be delivered")
	}
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !strings.HasPrefix(res.Error, "Client Error") || res.Response != `{"error":"bad"}` {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSenderConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	res := newSender(httprelay.Config{}).Send(context.Background(), &httprelay.Request{
		Headers: message.Headers{"url": "http://" + addr},
	})
	if res.Success || res.StatusCode != 0 {
		t.Fatalf("expected connection failure, got %+v", res)
	}
	if !strings.HasPrefix(res.Error, "Connection Error") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSenderCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newSender(httprelay.Config{BreakerFailures: 2})
	req := &httprelay.Request{Headers: message.Headers{"url": srv.URL}}

	for i := 0; i < 2; i++ {
		if res := s.Send(context.Background(), req); res.StatusCode != http.StatusBadGateway {
			t.Fatalf("attempt %d: status = %d", i, res.StatusCode)
		}
	}

	res := s.Send(context.Background(), req)
	if res.Success || !strings.Contains(res.Error, "circuit open") {
		t.Fatalf("expected open circuit, got %+v", res)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2", hits.Load())
	}
}

func TestRequestNewRecord(t *testing.T) {
	req := &httprelay.Request{
		Headers: message.Headers{"url": "https://example.com/x", "method": "put", "sender": "svc", "group-id": "g"},
		Body:    "b",
	}
	rec := req.NewRecord()

	if rec.Protocol != message.ProtocolHTTP || rec.Status != message.StatusReceived {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Method != "PUT" || rec.URL != "https://example.com/x" || rec.Version != "HTTP/1.1" {
		t.Fatalf("canonical fields wrong: %+v", rec)
	}
	if rec.Sender != "svc" || rec.GroupID != "g" {
		t.Fatalf("meta fields wrong: %+v", rec)
	}
}

func TestSenderThrottlesPerHost(t *testing.T) {
	var partnerHits, billingHits atomic.Int32
	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		partnerHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer partner.Close()
	billing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		billingHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer billing.Close()

	s := newSender(httprelay.Config{RatePerHost: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	send := func(target string) httprelay.Result {
		return s.Send(ctx, &httprelay.Request{Headers: message.Headers{"url": target}, Body: "{}"})
	}

	if res := send(partner.URL); !res.Delivered() {
		t.Fatalf("first partner call should pass, got %+v", res)
	}
	res := send(partner.URL)
	if res.Success || res.StatusCode != 0 || !strings.HasPrefix(res.Error, "rate limit: ") {
		t.Fatalf("second partner call should be throttled, got %+v", res)
	}
	if res := send(billing.URL); !res.Delivered() {
		t.Fatalf("billing call should pass while partner is throttled, got %+v", res)
	}

	if partnerHits.Load() != 1 || billingHits.Load() != 1 {
		t.Fatalf("hits partner=%d billing=%d, want 1 each", partnerHits.Load(), billingHits.Load())
	}
}
