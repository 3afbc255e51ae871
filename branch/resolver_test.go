package branch

import "testing"

func TestIsValidBranchName_BoundaryCases(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"fr", false},
		{"feature/add-login", true},
		{"..evil", false},
		{"main", true},
		{"develop", true},
	}
	for _, c := range cases {
		if got := IsValidBranchName(c.name); got != c.want {
			t.Errorf("IsValidBranchName(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestResolve_PrefersEventSuppliedBranch(t *testing.T) {
	r := NewResolver("main", nil, nil)
	got := r.Resolve(Input{EventBranch: "staging", Title: "hotfix: crash"})
	if got != "staging" {
		t.Fatalf("Resolve() = %q, want staging", got)
	}
}

func TestResolve_IgnoresInvalidEventSuppliedBranch(t *testing.T) {
	r := NewResolver("main", nil, nil)
	got := r.Resolve(Input{EventBranch: "fr", Title: "Add login feature"})
	if got != "develop" {
		t.Fatalf("Resolve() = %q, want develop (from task-type inference)", got)
	}
}

func TestResolve_PerRepoOverride(t *testing.T) {
	r := NewResolver("main", map[string]string{"ex/repo": "custom"}, nil)
	got := r.Resolve(Input{RepositoryURL: "https://github.com/ex/repo.git", Title: "something"})
	if got != "custom" {
		t.Fatalf("Resolve() = %q, want custom", got)
	}
}

func TestResolve_TaskTypeInference(t *testing.T) {
	r := NewResolver("main", nil, nil)
	got := r.Resolve(Input{Title: "Fix bug in login"})
	if got != "main" {
		t.Fatalf("Resolve() = %q, want main (bug type)", got)
	}
}

func TestResolve_InContentCue(t *testing.T) {
	r := NewResolver("main", nil, nil)
	got := r.Resolve(Input{Title: "Quelque chose", Description: "base: staging please"})
	if got != "staging" {
		t.Fatalf("Resolve() = %q, want staging", got)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := NewResolver("main", nil, nil)
	got := r.Resolve(Input{Title: "nothing recognizable here"})
	if got != "main" {
		t.Fatalf("Resolve() = %q, want main", got)
	}
}
