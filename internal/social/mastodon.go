package social

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/net/html"

	"github.com/wpowiertowski/posse/internal/config"
)

// mastodonMaxMedia is the attachment cap most instances enforce per status.
const mastodonMaxMedia = 4

// Mastodon posts to one account on one Mastodon instance over the REST API.
type Mastodon struct {
	name  string
	base  string
	token string
	http  *http.Client
}

// NewMastodon builds a client for a configured account. The access token is
// read from the credentials file once, at startup.
func NewMastodon(ac config.MastodonAccount) (*Mastodon, error) {
	token, err := readSecret(ac.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return &Mastodon{
		name:  ac.Name,
		base:  strings.TrimRight(ac.InstanceURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (m *Mastodon) Platform() string { return PlatformMastodon }
func (m *Mastodon) Name() string     { return m.name }

type mastodonStatus struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	FavouritesCnt int    `json:"favourites_count"`
	ReblogsCnt    int    `json:"reblogs_count"`
	RepliesCnt    int    `json:"replies_count"`
	InReplyToID   string `json:"in_reply_to_id"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
	Account       struct {
		Acct   string `json:"acct"`
		URL    string `json:"url"`
		Avatar string `json:"avatar"`
	} `json:"account"`
}

// Verify checks the token against verify_credentials.
func (m *Mastodon) Verify(ctx context.Context) error {
	var acct struct {
		Username string `json:"username"`
	}
	return m.get(ctx, "/api/v1/accounts/verify_credentials", nil, &acct)
}

// Publish uploads the media, then creates the status. A replyTo result
// threads the status under an earlier one from the same split sequence.
func (m *Mastodon) Publish(ctx context.Context, msg Message, replyTo *Result) (*Result, error) {
	var mediaIDs []string
	for i, md := range msg.Media {
		if i >= mastodonMaxMedia {
			break
		}
		id, err := m.uploadMedia(ctx, md)
		if err != nil {
			return nil, fmt.Errorf("upload media %s: %w", filepath.Base(md.Path), err)
		}
		mediaIDs = append(mediaIDs, id)
	}

	form := url.Values{}
	form.Set("status", msg.Text)
	form.Set("visibility", "public")
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}
	if replyTo != nil {
		form.Set("in_reply_to_id", replyTo.RemoteID)
	}

	var st mastodonStatus
	if err := m.postForm(ctx, "/api/v1/statuses", form, &st); err != nil {
		return nil, err
	}
	return &Result{RemoteID: st.ID, RemoteURL: st.URL}, nil
}

// Engagement reads favourites, boosts, and direct replies for one status.
func (m *Mastodon) Engagement(ctx context.Context, remoteID string, previewLimit int) (*Engagement, error) {
	var st mastodonStatus
	if err := m.get(ctx, "/api/v1/statuses/"+url.PathEscape(remoteID), nil, &st); err != nil {
		return nil, err
	}

	var thread struct {
		Descendants []mastodonStatus `json:"descendants"`
	}
	if err := m.get(ctx, "/api/v1/statuses/"+url.PathEscape(remoteID)+"/context", nil, &thread); err != nil {
		return nil, err
	}

	eng := &Engagement{
		Likes:         st.FavouritesCnt,
		Reposts:       st.ReblogsCnt,
		Replies:       st.RepliesCnt,
		ReplyPreviews: []ReplyPreview{},
	}
	for _, d := range thread.Descendants {
		// Direct replies only, not replies to replies.
		if d.InReplyToID != remoteID {
			continue
		}
		eng.ReplyPreviews = append(eng.ReplyPreviews, ReplyPreview{
			Author:    "@" + d.Account.Acct,
			AuthorURL: d.Account.URL,
			AvatarURL: d.Account.Avatar,
			Text:      stripHTML(d.Content),
			CreatedAt: d.CreatedAt,
			URL:       d.URL,
		})
		if previewLimit > 0 && len(eng.ReplyPreviews) >= previewLimit {
			break
		}
	}
	return eng, nil
}

func (m *Mastodon) uploadMedia(ctx context.Context, md Media) (string, error) {
	f, err := os.Open(md.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(md.Path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if md.Alt != "" {
		if err := w.WriteField("description", md.Alt); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+"/api/v2/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		ID string `json:"id"`
	}
	if err := m.do(req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (m *Mastodon) get(ctx context.Context, path string, q url.Values, out any) error {
	u := m.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	return m.do(req, out)
}

func (m *Mastodon) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return m.do(req, out)
}

func (m *Mastodon) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("mastodon %s: %s (http=%d)", req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("mastodon %s: http=%d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// stripHTML flattens status HTML to the plain text shown in reply previews.
func stripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "p" {
				b.WriteByte(' ')
			}
		}
	}
}
