package constants

import "testing"

func TestDatasetFilePath(t *testing.T) {
	got := DatasetFilePath("./output/resume-auditor-v1")
	if got != "output/resume-auditor-v1/dataset/train.jsonl" {
		t.Errorf("DatasetFilePath failed, expected output/resume-auditor-v1/dataset/train.jsonl, got %s", got)
	}
}

func TestArchiveFilePath(t *testing.T) {
	for in, want := range map[string]string{
		"./output/resume-auditor-v1": "output/resume-auditor-v1.zip",
		"/data/out/run/":             "/data/out/run.zip",
	} {
		if got := ArchiveFilePath(in); got != want {
			t.Errorf("ArchiveFilePath(%q) failed, expected %s, got %s", in, want, got)
		}
	}
}

func TestDefaultDataFilesIsACopy(t *testing.T) {
	files := DefaultDataFiles()
	files[0] = "changed"
	if DefaultDataFiles()[0] != "data/resume_analysis.jsonl" {
		t.Error("DefaultDataFiles must return a fresh slice")
	}
}
