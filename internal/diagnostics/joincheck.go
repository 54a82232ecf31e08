package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nests/internal/core/domain"
	"nests/pkg/nostr"

	"github.com/btcsuite/btcd/btcec/v2"
)

// JoinCheck is the outcome of one authenticated join attempt.
type JoinCheck struct {
	RoomID domain.RoomID `json:"roomId"`
	Status int           `json:"status"`
	Code   string        `json:"code,omitempty"`
	Role   string        `json:"role,omitempty"`
	Path   string        `json:"path,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (p JoinCheck) OK() bool {
	return p.Error == "" && p.Status == http.StatusOK
}

// JoinChecker joins rooms through the public API with a NIP-98 header.
type JoinChecker struct {
	client  *http.Client
	baseURL string
	key     *btcec.PrivateKey
}

func NewJoinChecker(client *http.Client, baseURL string, key *btcec.PrivateKey) *JoinChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &JoinChecker{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), key: key}
}

func (p *JoinChecker) Check(ctx context.Context, id domain.RoomID) JoinCheck {
	result := JoinCheck{RoomID: id}
	url := p.baseURL + "/api/v1/nests/" + string(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	header, err := nostr.AuthHeader(p.key, http.MethodGet, url, time.Now())
	if err != nil {
		result.Error = err.Error()
		return result
	}
	req.Header.Set("Authorization", header)

	resp, err := p.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	result.Status = resp.StatusCode

	var body struct {
		Error string `json:"error"`
		Role  string `json:"role"`
		Path  string `json:"path"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		result.Error = fmt.Sprintf("read body: %v", err)
		return result
	}
	if json.Unmarshal(raw, &body) == nil {
		result.Code = body.Error
		result.Role = body.Role
		result.Path = body.Path
	}
	return result
}
