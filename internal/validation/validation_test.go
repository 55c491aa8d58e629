package validation

import (
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"user_alice", true},
		{"abc", true},
		{"User-123", true},
		{"a1b2c3d4e5f6g7h8i9j0a1b2c3d4e5f6g7h8i9j0a1b2c3d4e5f6g7h8i9j0a1b2", true}, // 64 chars

		// Invalid cases
		{"ab", false},          // too short
		{"_leading", false},    // must start alphanumeric
		{"has space", false},   // whitespace
		{"has.dot", false},     // punctuation
		{"", false},
		{"a1b2c3d4e5f6g7h8i9j0a1b2c3d4e5f6g7h8i9j0a1b2c3d4e5f6g7h8i9j0a1b2x", false}, // 65 chars
	}

	for _, tc := range tests {
		result := IsValidUserID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("name", "John"),
		ValidUserID("userId", "user_alice"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("name", ""),
		ValidUserID("userId", "!!"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},
		{"0.000001", true},

		// Invalid
		{".50", false},
		{"1.", false},
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
