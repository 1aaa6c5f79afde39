package validator

import "testing"

type activityPayload struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	ActivityKind string `json:"activity_kind" validate:"required,activity_kind"`
	Amount       int64  `json:"amount" validate:"gt=0"`
}

func TestStructValid(t *testing.T) {
	payload := activityPayload{
		UserID:       "1f2a9b64-3c52-4c1e-9a7d-52f0f7f9a001",
		ActivityKind: "test_completion",
		Amount:       10,
	}
	if details := Struct(payload); details != nil {
		t.Fatalf("expected valid payload, got %v", details)
	}
}

func TestStructReportsFieldsByJSONTag(t *testing.T) {
	details := Struct(activityPayload{Amount: -1})
	if details == nil {
		t.Fatal("expected validation errors")
	}

	for _, field := range []string{"user_id", "activity_kind", "amount"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("expected error keyed by json tag %q, got %v", field, details)
		}
	}
}

func TestActivityKindValidation(t *testing.T) {
	valid := []string{
		"test_completion", "class_attendance", "video_completion",
		"daily_login", "perfect_score", "streak_bonus",
	}
	for _, kind := range valid {
		payload := activityPayload{
			UserID:       "1f2a9b64-3c52-4c1e-9a7d-52f0f7f9a001",
			ActivityKind: kind,
			Amount:       1,
		}
		if details := Struct(payload); details != nil {
			t.Fatalf("kind %q rejected: %v", kind, details)
		}
	}

	payload := activityPayload{
		UserID:       "1f2a9b64-3c52-4c1e-9a7d-52f0f7f9a001",
		ActivityKind: "pet_the_dog",
		Amount:       1,
	}
	details := Struct(payload)
	if details == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
	if details["activity_kind"] != "unknown activity kind" {
		t.Fatalf("unexpected message: %v", details)
	}
}
