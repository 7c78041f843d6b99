package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/choombridge/internal/choom"
)

type sentMessage struct {
	recipient   string
	message     string
	attachments []string
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) Send(ctx context.Context, recipient, message string, attachments ...string) (int64, error) {
	f.sent = append(f.sent, sentMessage{recipient, message, attachments})
	return int64(len(f.sent)), nil
}

type fakeSynth struct {
	voice string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice, dir string) (string, error) {
	f.voice = voice
	path := filepath.Join(dir, fmt.Sprintf("reply_%d.wav", time.Now().UnixNano()))
	return path, os.WriteFile(path, []byte("RIFF"), 0o600)
}

type fakeDirectory struct {
	chooms map[string]*choom.Choom
	images map[string]string
}

func (f *fakeDirectory) ByName(ctx context.Context, name string) (*choom.Choom, error) {
	if ch, ok := f.chooms[name]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("no choom named %q", name)
}

func (f *fakeDirectory) ImageDataURI(ctx context.Context, id string) (string, error) {
	if uri, ok := f.images[id]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("no image %s", id)
}

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
}

// testComposer takes the Synthesizer interface so a nil argument stays
// a nil interface and Compose skips speech entirely.
func testComposer(t *testing.T, sender *fakeSender, synth Synthesizer, dir *fakeDirectory) *Composer {
	t.Helper()
	c := NewComposer(sender, synth, dir, t.TempDir(), nil)
	c.imageDelay = time.Millisecond
	return c
}

func TestComposeAttributionAndAudio(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{}
	dir := &fakeDirectory{chooms: map[string]*choom.Choom{"Lissa": {Name: "Lissa", Voice: "nova"}}}
	c := testComposer(t, sender, synth, dir)

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "All set for tomorrow.",
		Name:      "Lissa",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.message != "[Lissa]\n\nAll set for tomorrow." {
		t.Errorf("message = %q", msg.message)
	}
	if len(msg.attachments) != 1 || !strings.HasSuffix(msg.attachments[0], ".wav") {
		t.Errorf("expected one audio attachment, got %v", msg.attachments)
	}
	if synth.voice != "nova" {
		t.Errorf("voice = %q, want companion voice", synth.voice)
	}
}

func TestComposeImagesFollowText(t *testing.T) {
	sender := &fakeSender{}
	c := testComposer(t, sender, nil, &fakeDirectory{})

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "Here you go.",
		Images: []choom.ImageRef{
			{URL: pngDataURI()},
			{URL: pngDataURI()},
		},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("expected text plus 2 image sends, got %d", len(sender.sent))
	}
	if sender.sent[0].message != "Here you go." {
		t.Errorf("first send should be the text, got %q", sender.sent[0].message)
	}
	for i, msg := range sender.sent[1:] {
		if msg.message != "" || len(msg.attachments) != 1 {
			t.Errorf("image send %d should carry only an attachment: %+v", i, msg)
		}
	}
}

func TestComposeFetchesImageByID(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{images: map[string]string{"img-1": pngDataURI()}}
	c := testComposer(t, sender, nil, dir)

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "Generated.",
		Images:    []choom.ImageRef{{ID: "img-1"}},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.sent))
	}
}

func TestComposeStripsReasoningAndSkipsEmpty(t *testing.T) {
	sender := &fakeSender{}
	c := testComposer(t, sender, nil, &fakeDirectory{})

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "<think>internal monologue</think>Done.",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if sender.sent[0].message != "Done." {
		t.Errorf("message = %q", sender.sent[0].message)
	}

	sender.sent = nil
	if err := c.Compose(context.Background(), Outbound{Recipient: "x", Text: "<think>only</think>"}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("empty reply should send nothing, got %d sends", len(sender.sent))
	}
}

func TestComposeWithoutSynthesizer(t *testing.T) {
	sender := &fakeSender{}
	c := testComposer(t, sender, nil, &fakeDirectory{})

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "Text only.",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(sender.sent) != 1 || len(sender.sent[0].attachments) != 0 {
		t.Errorf("no synthesizer should mean a bare text send, got %+v", sender.sent)
	}
}

func TestComposeNoAudio(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{}
	c := testComposer(t, sender, synth, &fakeDirectory{})

	err := c.Compose(context.Background(), Outbound{
		Recipient: "+358401234567",
		Text:      "Silent note.",
		NoAudio:   true,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(sender.sent[0].attachments) != 0 {
		t.Errorf("NoAudio should suppress the wav, got %v", sender.sent[0].attachments)
	}
}

func TestDecodeDataURI(t *testing.T) {
	data, err := decodeDataURI(pngDataURI())
	if err != nil {
		t.Fatalf("decodeDataURI: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Errorf("decoded %q", data)
	}

	if _, err := decodeDataURI("https://example.net/pic.png"); err == nil {
		t.Error("http URL should not decode")
	}
}
