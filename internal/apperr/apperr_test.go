package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCarriesKindAndCode(t *testing.T) {
	cause := errors.New("record missing")
	err := NotFound("posts.get", "post_missing", cause)

	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found kind, got %s", KindOf(err))
	}
	if CodeOf(err) != "posts.get.post_missing" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if err.Error() != "posts.get.post_missing: record missing" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", Conflict("users.register", "username_taken", nil))
	if !Is(err, KindConflict) {
		t.Fatalf("expected wrapped conflict to be detected")
	}
	if CodeOf(err) != "users.register.username_taken" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}

func TestForeignErrorsAreDependencyFailures(t *testing.T) {
	if KindOf(errors.New("disk full")) != KindDependencyFailure {
		t.Fatalf("expected dependency failure for foreign error")
	}
	if CodeOf(errors.New("disk full")) != "" {
		t.Fatalf("expected empty code for foreign error")
	}
	if Is(nil, KindDependencyFailure) {
		t.Fatalf("nil must not match any kind")
	}
}
