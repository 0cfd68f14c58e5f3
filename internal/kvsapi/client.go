// Package kvsapi implements the three short-lived control-plane REST calls
// (DescribeStream, CreateStream, GetDataEndpoint) and the long-lived
// PutMedia streaming session used to publish MKV fragments to Kinesis
// Video Streams.
package kvsapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	kvserrors "github.com/alxayo/kvs-producer/internal/errors"
	"github.com/alxayo/kvs-producer/internal/logger"
	"github.com/alxayo/kvs-producer/internal/sigv4"
)

const service = "kinesisvideo"

// ServiceParameter mirrors the fixed set of fields every control-plane and
// PutMedia call needs: credentials, region/host, and timeouts.
type ServiceParameter struct {
	Credentials sigv4.Credentials
	Region      string
	Host        string // e.g. "kinesisvideo.us-west-2.amazonaws.com"; control-plane host

	ConnTimeout time.Duration
	RecvTimeout time.Duration
	SendTimeout time.Duration
}

// Client issues the control-plane REST calls over a bounded-retry HTTP
// client. The PutMedia streaming connection is deliberately NOT routed
// through this client — see PutMediaSession.
type Client struct {
	svc    ServiceParameter
	signer *sigv4.Signer
	http   *retryablehttp.Client
}

// NewClient constructs a control-plane client for svc.
func NewClient(svc ServiceParameter) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	if svc.ConnTimeout > 0 {
		rc.HTTPClient.Timeout = svc.ConnTimeout
	}
	return &Client{
		svc:    svc,
		signer: sigv4.New(svc.Region, service),
		http:   rc,
	}
}

type describeStreamRequest struct {
	StreamName string `json:"StreamName"`
}

type describeStreamResponse struct {
	StreamInfo struct {
		StreamARN string `json:"StreamARN"`
		Status    string `json:"Status"`
	} `json:"StreamInfo"`
}

// DescribeStream reports the HTTP status of a describeStream call; the
// caller treats any non-200 as "stream does not exist yet".
func (c *Client) DescribeStream(streamName string) (statusCode int, err error) {
	return c.post("/describeStream", describeStreamRequest{StreamName: streamName}, nil)
}

type createStreamRequest struct {
	StreamName           string `json:"StreamName"`
	DataRetentionInHours uint32 `json:"DataRetentionInHours"`
	MediaType            string `json:"MediaType"`
}

// CreateStream provisions a new stream with the given data-retention
// window (hours). MediaType is fixed to the video/h264 track mux used by
// this producer.
func (c *Client) CreateStream(streamName string, dataRetentionInHours uint32) (statusCode int, err error) {
	req := createStreamRequest{
		StreamName:           streamName,
		DataRetentionInHours: dataRetentionInHours,
		MediaType:            "video/h264",
	}
	return c.post("/createStream", req, nil)
}

type getDataEndpointRequest struct {
	StreamName string `json:"StreamName"`
	APIName    string `json:"APIName"`
}

type getDataEndpointResponse struct {
	DataEndpoint string `json:"DataEndpoint"`
}

// GetDataEndpoint resolves the per-stream host to use for PutMediaStart.
func (c *Client) GetDataEndpoint(streamName string) (endpoint string, statusCode int, err error) {
	var resp getDataEndpointResponse
	req := getDataEndpointRequest{StreamName: streamName, APIName: "PUT_MEDIA"}
	statusCode, err = c.post("/getDataEndpoint", req, &resp)
	if err != nil {
		return "", statusCode, err
	}
	return resp.DataEndpoint, statusCode, nil
}

// post signs and executes a control-plane JSON POST, decoding the response
// body into out (if non-nil and the call succeeded).
func (c *Client) post(path string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, kvserrors.NewArgumentError("kvsapi.post."+path, err)
	}

	amzDate := time.Now().UTC().Format("20060102T150405Z")
	headers := map[string]string{
		"host":       c.svc.Host,
		"user-agent": "kvs-producer/1.0",
		"x-amz-date": amzDate,
	}
	if c.svc.Credentials.Token != "" {
		headers["x-amz-security-token"] = c.svc.Credentials.Token
	}

	sigReq := sigv4.Request{Method: "POST", URI: path, Query: "", Headers: headers, Body: payload}
	auth, err := c.signer.Sign(sigReq, amzDate, c.svc.Credentials)
	if err != nil {
		return 0, err
	}

	url := "https://" + c.svc.Host + path
	httpReq, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, kvserrors.NewNetworkError("kvsapi.post."+path, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("authorization", auth)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, kvserrors.NewNetworkError("kvsapi.post."+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, kvserrors.NewNetworkError("kvsapi.post."+path, err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.Warn("control-plane call failed", "path", path, "status", resp.StatusCode)
		return resp.StatusCode, kvserrors.NewRestfulError("kvsapi.post."+path, resp.StatusCode, fmt.Errorf("%s", respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, kvserrors.NewParseError("kvsapi.post."+path, err)
		}
	}
	return resp.StatusCode, nil
}
