package sigv4

import "testing"

func testRequest() Request {
	return Request{
		Method: "POST",
		URI:    "/putMedia",
		Query:  "",
		Headers: map[string]string{
			"host":                 "example.kinesisvideo.us-west-2.amazonaws.com",
			"transfer-encoding":    "chunked",
			"connection":           "keep-alive",
			"user-agent":           "kvs-producer/1.0",
			"x-amz-date":           "20260730T120000Z",
			"x-amzn-stream-name":   "my-stream",
			"content-type":         "application/json", // does not participate in signing
		},
	}
}

func testCreds() Credentials {
	return Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}
}

func TestSignProducesStableSignature(t *testing.T) {
	s := New("us-west-2", "kinesisvideo")
	req := testRequest()
	creds := testCreds()

	sig1, err := s.Sign(req, "20260730T120000Z", creds)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig2, err := s.Sign(req, "20260730T120000Z", creds)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("re-signing the exact same header set and body produced different signatures:\n%s\n%s", sig1, sig2)
	}
}

func TestSignOnlyIncludesHeadersPresent(t *testing.T) {
	s := New("us-west-2", "kinesisvideo")
	req := testRequest()
	sig, err := s.Sign(req, "20260730T120000Z", testCreds())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if contains(sig, "x-amz-security-token") {
		t.Fatalf("SignedHeaders should not list x-amz-security-token when absent: %s", sig)
	}
	if !contains(sig, "host") || !contains(sig, "x-amzn-stream-name") {
		t.Fatalf("SignedHeaders should list present headers: %s", sig)
	}
}

func TestSignIncludesSecurityTokenHeaderWhenPresent(t *testing.T) {
	s := New("us-west-2", "kinesisvideo")
	req := testRequest()
	req.Headers["x-amz-security-token"] = "AQoDYXdzEPT//////////"
	sig, err := s.Sign(req, "20260730T120000Z", testCreds())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !contains(sig, "x-amz-security-token") {
		t.Fatalf("expected x-amz-security-token in SignedHeaders: %s", sig)
	}
}

func TestSignRejectsMalformedDate(t *testing.T) {
	s := New("us-west-2", "kinesisvideo")
	if _, err := s.Sign(testRequest(), "not-a-date", testCreds()); err == nil {
		t.Fatalf("expected error for malformed x-amz-date")
	}
}

func TestSignRejectsEmptySecret(t *testing.T) {
	s := New("us-west-2", "kinesisvideo")
	_, err := s.Sign(testRequest(), "20260730T120000Z", Credentials{AccessKeyID: "AKID"})
	if err == nil {
		t.Fatalf("expected error for empty secret access key")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
