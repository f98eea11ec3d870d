package artifact

import "testing"

func TestFormatAndParseStorageKey(t *testing.T) {
	key := FormatStorageKey("session-1", "abcd1234", "wxyz9876")
	if key != "session-1_abcd1234_wxyz9876" {
		t.Fatalf("FormatStorageKey() = %q", key)
	}

	sessionID, taskID, turnID, err := ParseStorageKey(key)
	if err != nil {
		t.Fatalf("ParseStorageKey() unexpected error: %v", err)
	}
	if sessionID != "session-1" || taskID != "abcd1234" || turnID != "wxyz9876" {
		t.Fatalf("ParseStorageKey() = %q %q %q", sessionID, taskID, turnID)
	}
}

func TestValidateStorageKey(t *testing.T) {
	valid := []string{
		"s_aaaaaaaa_bbbbbbbb",
		"uuid-like-session_12345678_abcdefgh",
	}
	for _, key := range valid {
		if !ValidateStorageKey(key) {
			t.Fatalf("ValidateStorageKey(%q) = false, want true", key)
		}
	}

	invalid := []string{
		"",
		"nounderscore",
		"too_few",
		"s_short_bbbbbbbb",
		"s_aaaaaaaa_toolongtoken",
		"s_AAAAAAAA_bbbbbbbb",
		"se_ss_aaaaaaaa_bbbbbbbb",
		"_aaaaaaaa_bbbbbbbb",
	}
	for _, key := range invalid {
		if ValidateStorageKey(key) {
			t.Fatalf("ValidateStorageKey(%q) = true, want false", key)
		}
	}
}

func TestValidateToken(t *testing.T) {
	if !ValidateToken("abcd1234") {
		t.Fatalf("ValidateToken() rejected a valid token")
	}
	for _, token := range []string{"", "short", "ABCD1234", "abcd12345", "abcd-123"} {
		if ValidateToken(token) {
			t.Fatalf("ValidateToken(%q) = true, want false", token)
		}
	}
}

func TestParseStorageKey_Malformed(t *testing.T) {
	if _, _, _, err := ParseStorageKey("not-a-key"); err == nil {
		t.Fatalf("ParseStorageKey() should reject a malformed key")
	}
}
