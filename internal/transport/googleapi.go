package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
)

type googleClient struct{ svc *gmail.Service }

// NewGoogleAPIClient adapts a *gmail.Service to the Transport interface.
func NewGoogleAPIClient(svc *gmail.Service) Transport { return &googleClient{svc} }

func (g *googleClient) Send(ctx context.Context, msg Outbound) (SentRef, error) {
	raw := base64.RawURLEncoding.EncodeToString(buildRFC2822(msg, time.Now()))
	sent, err := g.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return SentRef{}, fmt.Errorf("send message: %w", err)
	}
	return SentRef{ID: MessageID(sent.Id), ThreadID: ThreadID(sent.ThreadId)}, nil
}

func (g *googleClient) ListUnreadSince(ctx context.Context, from string, since time.Time, max int64) ([]CandidateRef, error) {
	q := fmt.Sprintf("from:%s is:unread after:%d", from, since.Unix())
	res, err := g.svc.Users.Messages.List("me").Q(q).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	refs := make([]CandidateRef, 0, len(res.Messages))
	for _, m := range res.Messages {
		refs = append(refs, CandidateRef{ID: MessageID(m.Id), ThreadID: ThreadID(m.ThreadId)})
	}
	return refs, nil
}

func (g *googleClient) FetchFull(ctx context.Context, id MessageID) (FullMessage, error) {
	msg, err := g.svc.Users.Messages.Get("me", string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return FullMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	full := FullMessage{
		ID:         id,
		ThreadID:   ThreadID(msg.ThreadId),
		ReceivedAt: time.UnixMilli(msg.InternalDate),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				full.Subject = h.Value
			case "From":
				full.From = h.Value
			}
		}
		full.Body = extractTextBody(msg.Payload)
	}
	return full, nil
}

func (g *googleClient) MarkRead(ctx context.Context, id MessageID) error {
	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := g.svc.Users.Messages.Modify("me", string(id), req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

func (g *googleClient) BatchArchive(ctx context.Context, ids []MessageID) error {
	req := &gmail.BatchModifyMessagesRequest{
		Ids:            toStrings(ids),
		RemoveLabelIds: []string{"INBOX", "UNREAD"},
	}
	if err := g.svc.Users.Messages.BatchModify("me", req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch archive: %w", err)
	}
	return nil
}

// buildRFC2822 assembles a plain-text message. CRLF line endings per the
// wire format; the payload body is appended verbatim.
func buildRFC2822(msg Outbound, now time.Time) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%d.calbridge@%s>\r\n", now.UnixNano(), domainOf(msg.From))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i+1 < len(addr) {
		return addr[i+1:]
	}
	return "localhost"
}

func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}

// extractTextBody returns the first text/plain part of the MIME tree. The
// Gmail API serves part data base64url-encoded, usually without padding.
func extractTextBody(part *gmail.MessagePart) string {
	if body := findTextPlain(part); body != "" {
		return body
	}
	// Single-part messages carry the body on the payload itself.
	if part != nil && part.Body != nil && part.Body.Data != "" && !strings.HasPrefix(part.MimeType, "multipart/") {
		return decodeBodyData(part.Body.Data)
	}
	return ""
}

// findTextPlain accepts only text/plain parts, so a multipart/alternative
// reply that lists text/html first still yields the plain body.
func findTextPlain(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBodyData(part.Body.Data)
	}
	for _, p := range part.Parts {
		if body := findTextPlain(p); body != "" {
			return body
		}
	}
	return ""
}

func decodeBodyData(data string) string {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

func toStrings(ids []MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
