package kvsapi

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/alxayo/kvs-producer/internal/sigv4"
)

// recordingTransport captures the last outgoing request and returns a
// canned response, so these tests never touch the network.
type recordingTransport struct {
	lastReq    *http.Request
	lastBody   []byte
	statusCode int
	body       string
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.lastReq = req
	if req.Body != nil {
		t.lastBody, _ = io.ReadAll(req.Body)
	}
	return &http.Response{
		StatusCode: t.statusCode,
		Body:       io.NopCloser(bytes.NewReader([]byte(t.body))),
		Header:     make(http.Header),
	}, nil
}

func newTestClient(rt *recordingTransport) *Client {
	c := NewClient(ServiceParameter{
		Credentials: sigv4.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"},
		Region:      "us-west-2",
		Host:        "kinesisvideo.us-west-2.amazonaws.com",
	})
	c.http.HTTPClient.Transport = rt
	c.http.RetryMax = 0
	return c
}

func TestDescribeStreamSignsAndSendsRequest(t *testing.T) {
	rt := &recordingTransport{statusCode: 200, body: "{}"}
	c := newTestClient(rt)

	status, err := c.DescribeStream("my-stream")
	if err != nil {
		t.Fatalf("DescribeStream: %v", err)
	}
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if rt.lastReq == nil {
		t.Fatalf("expected a request to be sent")
	}
	if rt.lastReq.URL.Path != "/describeStream" {
		t.Fatalf("expected path /describeStream, got %s", rt.lastReq.URL.Path)
	}
	if rt.lastReq.Header.Get("authorization") == "" {
		t.Fatalf("expected a signed authorization header")
	}

	var body describeStreamRequest
	if err := json.Unmarshal(rt.lastBody, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.StreamName != "my-stream" {
		t.Fatalf("expected StreamName my-stream, got %s", body.StreamName)
	}
}

func TestGetDataEndpointParsesResponse(t *testing.T) {
	rt := &recordingTransport{statusCode: 200, body: `{"DataEndpoint":"https://data.kinesisvideo.example.com"}`}
	c := newTestClient(rt)

	endpoint, status, err := c.GetDataEndpoint("my-stream")
	if err != nil {
		t.Fatalf("GetDataEndpoint: %v", err)
	}
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if endpoint != "https://data.kinesisvideo.example.com" {
		t.Fatalf("unexpected endpoint: %s", endpoint)
	}
}

func TestPostReturnsRestfulErrorOnNon200(t *testing.T) {
	rt := &recordingTransport{statusCode: 404, body: `{"Message":"not found"}`}
	c := newTestClient(rt)

	status, err := c.DescribeStream("missing-stream")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
	if err == nil {
		t.Fatalf("expected an error for a non-200 response")
	}
}
