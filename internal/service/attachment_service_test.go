package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestAttachmentService_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, TaskInput{Title: "with file"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payload := []byte("%PDF-1.4\x00\x01binary")
	att, err := f.attachments.Attach(ctx, task.ID, Upload{
		Filename:    `C:\Users\me\report.pdf`,
		ContentType: "application/pdf",
		Body:        bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if att.Filename != "report.pdf" || att.Filetype != "application/pdf" || att.Size != int64(len(payload)) {
		t.Errorf("att = %+v", att)
	}
	if att.Filepath == att.Filename || !strings.HasSuffix(att.Filepath, ".pdf") {
		t.Errorf("storage key %q should be generated", att.Filepath)
	}

	file, err := f.attachments.Download(ctx, att.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := io.ReadAll(file.Body)
	file.Body.Close()
	if !bytes.Equal(got, payload) || file.Filename != "report.pdf" {
		t.Errorf("download = %q %q", file.Filename, got)
	}

	loaded, err := f.tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(loaded.Attachments) != 1 || loaded.Attachments[0].ID != att.ID {
		t.Errorf("task attachments = %+v", loaded.Attachments)
	}
}

func TestAttachmentService_SameFilenameDoesNotCollide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})
	a, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "a.txt", Body: strings.NewReader("one")})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	b, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "a.txt", Body: strings.NewReader("two")})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	for att, want := range map[uint]string{a.ID: "one", b.ID: "two"} {
		file, err := f.attachments.Download(ctx, att)
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		got, _ := io.ReadAll(file.Body)
		file.Body.Close()
		if string(got) != want {
			t.Errorf("attachment %d = %q, want %q", att, got, want)
		}
	}
}

func TestAttachmentService_MissingTaskLeavesNoBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.attachments.Attach(ctx, 99, Upload{Filename: "x.txt", Body: strings.NewReader("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	objs, _ := f.store.List(ctx)
	if len(objs) != 0 {
		t.Errorf("orphaned bytes: %+v", objs)
	}
}

func TestAttachmentService_TooLarge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})
	_, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "big.bin", Body: bytes.NewReader(make([]byte, 1025))})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	objs, _ := f.store.List(ctx)
	if len(objs) != 0 {
		t.Errorf("partial upload left behind: %+v", objs)
	}

	if _, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "fits.bin", Body: bytes.NewReader(make([]byte, 1024))}); err != nil {
		t.Errorf("upload at the limit: %v", err)
	}
}

func TestAttachmentService_BrokenUploadIsClientError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})
	body := io.MultiReader(strings.NewReader("hello"), iotest.ErrReader(io.ErrUnexpectedEOF))
	_, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "cut.txt", Body: body})
	if !IsValidation(err) || errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ValidationError without ErrStorage", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want the read error kept", err)
	}
	objs, _ := f.store.List(ctx)
	if len(objs) != 0 {
		t.Errorf("partial upload left behind: %+v", objs)
	}
}

func TestAttachmentService_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})

	for _, up := range []Upload{
		{Filename: "", Body: strings.NewReader("x")},
		{Filename: "  ", Body: strings.NewReader("x")},
		{Filename: "a.txt"},
	} {
		if _, err := f.attachments.Attach(ctx, task.ID, up); !IsValidation(err) {
			t.Errorf("Attach(%q) err = %v, want ValidationError", up.Filename, err)
		}
	}
}

func TestAttachmentService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})
	att, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "a.txt", Body: strings.NewReader("a")})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// Bytes already gone is not a failure.
	if err := f.store.Delete(ctx, att.Filepath); err != nil {
		t.Fatalf("store.Delete: %v", err)
	}
	if _, err := f.attachments.Download(ctx, att.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download without bytes err = %v, want ErrNotFound", err)
	}
	if err := f.attachments.Delete(ctx, att.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.attachments.Delete(ctx, att.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestAttachmentService_ListForTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.tasks.Create(ctx, TaskInput{Title: "t"})
	atts, err := f.attachments.ListForTask(ctx, task.ID)
	if err != nil || atts == nil || len(atts) != 0 {
		t.Fatalf("ListForTask(empty) = %v, %v", atts, err)
	}
	if _, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "a.txt", Body: strings.NewReader("a")}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	atts, err = f.attachments.ListForTask(ctx, task.ID)
	if err != nil || len(atts) != 1 {
		t.Fatalf("ListForTask = %v, %v", atts, err)
	}
	if _, err := f.attachments.ListForTask(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListForTask(missing) err = %v", err)
	}
}

func TestAttachmentService_StorageFailures(t *testing.T) {
	f := newFixtureWithStore(t, failingStore{})
	ctx := context.Background()

	task, err := f.tasks.Create(ctx, TaskInput{Title: "t"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.attachments.Attach(ctx, task.ID, Upload{Filename: "a.txt", Body: strings.NewReader("a")}); !errors.Is(err, ErrStorage) {
		t.Errorf("Attach err = %v, want ErrStorage", err)
	}
	// Byte cleanup failures do not fail task deletion.
	if _, err := f.tasks.Delete(ctx, task.ID); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if _, err := f.sweeper.Sweep(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("Sweep err = %v, want ErrStorage", err)
	}
}
