package social

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wpowiertowski/posse/internal/config"
)

const blueskyDefaultService = "https://bsky.social"

// blueskyMaxMedia is the image cap per post record.
const blueskyMaxMedia = 4

// Bluesky posts to one account over the AT Protocol XRPC endpoints. Sessions
// are created lazily and refreshed by re-login when the access token expires.
type Bluesky struct {
	name       string
	service    string
	identifier string
	password   string
	http       *http.Client

	mu     sync.Mutex
	jwt    string
	did    string
	handle string
}

// NewBluesky builds a client for a configured account. The credentials file
// holds two lines: the identifier (handle or email) and the app password.
func NewBluesky(ac config.BlueskyAccount) (*Bluesky, error) {
	raw, err := readSecret(ac.CredentialsFile)
	if err != nil {
		return nil, err
	}
	lines := strings.SplitN(raw, "\n", 2)
	if len(lines) != 2 || strings.TrimSpace(lines[1]) == "" {
		return nil, fmt.Errorf("credentials %s: want identifier and app password on two lines", ac.CredentialsFile)
	}
	service := strings.TrimRight(ac.ServiceURL, "/")
	if service == "" {
		service = blueskyDefaultService
	}
	return &Bluesky{
		name:       ac.Name,
		service:    service,
		identifier: strings.TrimSpace(lines[0]),
		password:   strings.TrimSpace(lines[1]),
		http:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (b *Bluesky) Platform() string { return PlatformBluesky }
func (b *Bluesky) Name() string     { return b.name }

// Verify logs in, which exercises both the service URL and the credentials.
func (b *Bluesky) Verify(ctx context.Context) error {
	return b.login(ctx)
}

type blueskyRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type blueskyFacet struct {
	Index struct {
		ByteStart int `json:"byteStart"`
		ByteEnd   int `json:"byteEnd"`
	} `json:"index"`
	Features []map[string]string `json:"features"`
}

// Publish uploads image blobs and creates an app.bsky.feed.post record.
// Split continuations thread under the first post of the sequence: the
// replyTo result serves as both root and parent.
func (b *Bluesky) Publish(ctx context.Context, msg Message, replyTo *Result) (*Result, error) {
	if err := b.ensureSession(ctx); err != nil {
		return nil, err
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      msg.Text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if facets := linkFacets(msg.Text); len(facets) > 0 {
		record["facets"] = facets
	}

	if len(msg.Media) > 0 {
		var images []map[string]any
		for i, md := range msg.Media {
			if i >= blueskyMaxMedia {
				break
			}
			blob, err := b.uploadBlob(ctx, md.Path)
			if err != nil {
				return nil, fmt.Errorf("upload blob: %w", err)
			}
			images = append(images, map[string]any{"alt": md.Alt, "image": blob})
		}
		record["embed"] = map[string]any{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}

	if replyTo != nil {
		ref := blueskyRef{URI: replyTo.RemoteID, CID: replyTo.CID}
		record["reply"] = map[string]any{"root": ref, "parent": ref}
	}

	var out blueskyRef
	err := b.xrpc(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, map[string]any{
		"repo":       b.currentDID(),
		"collection": "app.bsky.feed.post",
		"record":     record,
	}, &out)
	if err != nil {
		return nil, err
	}

	rkey := out.URI[strings.LastIndexByte(out.URI, '/')+1:]
	return &Result{
		RemoteID:  out.URI,
		RemoteURL: fmt.Sprintf("https://bsky.app/profile/%s/post/%s", b.currentHandle(), rkey),
		CID:       out.CID,
	}, nil
}

// Engagement reads the post thread: counts come from the subject post,
// previews from its top-level replies.
func (b *Bluesky) Engagement(ctx context.Context, remoteID string, previewLimit int) (*Engagement, error) {
	if err := b.ensureSession(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("uri", remoteID)
	q.Set("depth", "1")

	var out struct {
		Thread struct {
			Post struct {
				LikeCount   int `json:"likeCount"`
				RepostCount int `json:"repostCount"`
				ReplyCount  int `json:"replyCount"`
			} `json:"post"`
			Replies []struct {
				Post struct {
					URI    string `json:"uri"`
					Author struct {
						Handle string `json:"handle"`
						Avatar string `json:"avatar"`
					} `json:"author"`
					Record struct {
						Text      string `json:"text"`
						CreatedAt string `json:"createdAt"`
					} `json:"record"`
				} `json:"post"`
			} `json:"replies"`
		} `json:"thread"`
	}
	if err := b.xrpc(ctx, http.MethodGet, "app.bsky.feed.getPostThread", q, nil, &out); err != nil {
		return nil, err
	}

	eng := &Engagement{
		Likes:         out.Thread.Post.LikeCount,
		Reposts:       out.Thread.Post.RepostCount,
		Replies:       out.Thread.Post.ReplyCount,
		ReplyPreviews: []ReplyPreview{},
	}
	for _, r := range out.Thread.Replies {
		if previewLimit > 0 && len(eng.ReplyPreviews) >= previewLimit {
			break
		}
		handle := r.Post.Author.Handle
		rkey := r.Post.URI[strings.LastIndexByte(r.Post.URI, '/')+1:]
		eng.ReplyPreviews = append(eng.ReplyPreviews, ReplyPreview{
			Author:    "@" + handle,
			AuthorURL: "https://bsky.app/profile/" + handle,
			AvatarURL: r.Post.Author.Avatar,
			Text:      r.Post.Record.Text,
			CreatedAt: r.Post.Record.CreatedAt,
			URL:       fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey),
		})
	}
	return eng, nil
}

func (b *Bluesky) ensureSession(ctx context.Context) error {
	b.mu.Lock()
	have := b.jwt != ""
	b.mu.Unlock()
	if have {
		return nil
	}
	return b.login(ctx)
}

func (b *Bluesky) login(ctx context.Context) error {
	var out struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
		Handle    string `json:"handle"`
	}
	err := b.xrpcBare(ctx, http.MethodPost, "com.atproto.server.createSession", nil, map[string]any{
		"identifier": b.identifier,
		"password":   b.password,
	}, &out)
	if err != nil {
		return fmt.Errorf("bluesky auth: %w", err)
	}
	b.mu.Lock()
	b.jwt, b.did, b.handle = out.AccessJwt, out.DID, out.Handle
	b.mu.Unlock()
	return nil
}

func (b *Bluesky) currentDID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.did
}

func (b *Bluesky) currentHandle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handle
}

func (b *Bluesky) currentJWT() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jwt
}

func (b *Bluesky) uploadBlob(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.service+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", http.DetectContentType(data))
	req.Header.Set("Authorization", "Bearer "+b.currentJWT())

	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	if err := b.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.Blob, nil
}

// xrpc issues an authenticated XRPC call, re-logging in once on an expired
// token.
func (b *Bluesky) xrpc(ctx context.Context, method, nsid string, q url.Values, body, out any) error {
	err := b.xrpcOnce(ctx, method, nsid, q, body, out, true)
	if err != nil && strings.Contains(err.Error(), "ExpiredToken") {
		if err = b.login(ctx); err != nil {
			return err
		}
		return b.xrpcOnce(ctx, method, nsid, q, body, out, true)
	}
	return err
}

func (b *Bluesky) xrpcBare(ctx context.Context, method, nsid string, q url.Values, body, out any) error {
	return b.xrpcOnce(ctx, method, nsid, q, body, out, false)
}

func (b *Bluesky) xrpcOnce(ctx context.Context, method, nsid string, q url.Values, body, out any, authed bool) error {
	u := b.service + "/xrpc/" + nsid
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader = http.NoBody
	if body != nil {
		enc, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(enc)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+b.currentJWT())
	}
	return b.doJSON(req, out)
}

func (b *Bluesky) doJSON(req *http.Request, out any) error {
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("bluesky %s: %s: %s (http=%d)", req.URL.Path, apiErr.Error, apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("bluesky %s: http=%d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// linkFacets marks every http(s) URL in the text as a link facet. Offsets
// are byte positions, as the record format requires.
func linkFacets(text string) []blueskyFacet {
	var facets []blueskyFacet
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], "http")
		if j < 0 {
			break
		}
		start := i + j
		rest := text[start:]
		if !strings.HasPrefix(rest, "http://") && !strings.HasPrefix(rest, "https://") {
			i = start + 4
			continue
		}
		end := start
		for end < len(text) && !isLinkBoundary(text[end]) {
			end++
		}
		var f blueskyFacet
		f.Index.ByteStart = start
		f.Index.ByteEnd = end
		f.Features = []map[string]string{{
			"$type": "app.bsky.richtext.facet#link",
			"uri":   text[start:end],
		}}
		facets = append(facets, f)
		i = end
	}
	return facets
}

func isLinkBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '"', '\'', '<', '>', ')':
		return true
	}
	return false
}
