package guidance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeBundle(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadAndAssemble(t *testing.T) {
	dir := writeBundle(t, map[string]string{
		"soul.md":         "You are a careful assistant.",
		"instructions.md": "Always confirm before deleting.",
		"zz-extra.md":     "Extra notes.",
		"ignored.txt":     "not markdown",
	})

	gc, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	names := gc.Documents()
	want := []string{"soul.md", "instructions.md", "zz-extra.md"}
	if len(names) != len(want) {
		t.Fatalf("Documents() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Documents() = %v, want %v", names, want)
		}
	}

	prompt := gc.SystemPrompt()
	if prompt != "You are a careful assistant.\n\nAlways confirm before deleting.\n\nExtra notes." {
		t.Errorf("unexpected prompt: %q", prompt)
	}
}

func TestLoadMissingPathFails(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := Load("/nonexistent/guidance"); err == nil {
		t.Error("expected error for missing bundle")
	}
}

func TestMemoryWritesAndState(t *testing.T) {
	gc, err := Load(writeBundle(t, map[string]string{"soul.md": "x"}))
	if err != nil {
		t.Fatal(err)
	}

	gc.RecordMemoryWrite("learned: user prefers yaml")
	gc.SetSystemState("mode", "test")

	if writes := gc.MemoryWrites(); len(writes) != 1 || writes[0] != "learned: user prefers yaml" {
		t.Errorf("MemoryWrites() = %v", writes)
	}
	if state := gc.SystemState(); state["mode"] != "test" {
		t.Errorf("SystemState() = %v", state)
	}

	gc.Restore([]string{"a", "b"}, map[string]any{"k": 1})
	if writes := gc.MemoryWrites(); len(writes) != 2 {
		t.Errorf("Restore() did not replace writes: %v", writes)
	}
}

func TestLoadSkills(t *testing.T) {
	root := t.TempDir()

	good := filepath.Join(root, "deploy")
	if err := os.MkdirAll(good, 0755); err != nil {
		t.Fatal(err)
	}
	skill := "---\nname: deploy\ndescription: Ship a release.\n---\n# Deploy\nSteps here.\n"
	if err := os.WriteFile(filepath.Join(good, "SKILL.md"), []byte(skill), 0644); err != nil {
		t.Fatal(err)
	}

	// Directory without SKILL.md is ignored.
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	skills, err := LoadSkills(root)
	if err != nil {
		t.Fatalf("LoadSkills() error = %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	if skills[0].Name != "deploy" || skills[0].Description != "Ship a release." {
		t.Errorf("skill = %+v", skills[0])
	}
	if skills[0].Content != "# Deploy\nSteps here.\n" {
		t.Errorf("content = %q", skills[0].Content)
	}
}

func TestWatchNotifiesOnMarkdownChange(t *testing.T) {
	dir := writeBundle(t, map[string]string{"soul.md": "v1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Let the watcher register before mutating the bundle.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "soul.md"), []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification for modified document")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch() returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatchIgnoresNonMarkdown(t *testing.T) {
	dir := writeBundle(t, map[string]string{"soul.md": "v1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	go func() {
		_ = Watch(ctx, dir, func() { changed <- struct{}{} })
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("non-markdown write must not notify")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSkillWithoutFrontmatterUsesDirName(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "plain")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte("just body"), 0644); err != nil {
		t.Fatal(err)
	}

	skills, err := LoadSkills(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 1 || skills[0].Name != "plain" {
		t.Fatalf("skills = %+v", skills)
	}
}
