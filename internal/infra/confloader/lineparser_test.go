package confloader

import "testing"

func TestLineParser_Unmarshal(t *testing.T) {
	content := []byte(`
# a comment
port 7000
dir ./data
save 900 1
save 300 10
appendfsync everysec
`)

	m, err := LineParser{}.Unmarshal(content)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if m["port"] != "7000" {
		t.Errorf("port = %v, want 7000", m["port"])
	}
	if m["dir"] != "./data" {
		t.Errorf("dir = %v, want ./data", m["dir"])
	}
	saves, ok := m["save"].([]string)
	if !ok {
		t.Fatalf("save = %v (%T), want []string", m["save"], m["save"])
	}
	if len(saves) != 2 || saves[0] != "900 1" || saves[1] != "300 10" {
		t.Errorf("save = %v, want [\"900 1\" \"300 10\"]", saves)
	}
	if m["appendfsync"] != "everysec" {
		t.Errorf("appendfsync = %v, want everysec", m["appendfsync"])
	}
}

func TestLineParser_Unmarshal_MalformedLine(t *testing.T) {
	_, err := LineParser{}.Unmarshal([]byte("port\n"))
	if err == nil {
		t.Error("expected error for line with no value")
	}
}

func TestLineParser_Unmarshal_Empty(t *testing.T) {
	m, err := LineParser{}.Unmarshal([]byte(""))
	if err != nil {
		t.Fatalf("Unmarshal(\"\") error = %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestLineParser_RoundTrip(t *testing.T) {
	m := map[string]interface{}{
		"port": "7000",
		"save": []string{"900 1", "300 10"},
	}
	b, err := LineParser{}.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	back, err := LineParser{}.Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal(Marshal()) error = %v", err)
	}
	if back["port"] != "7000" {
		t.Errorf("port = %v, want 7000", back["port"])
	}
	saves, ok := back["save"].([]string)
	if !ok || len(saves) != 2 {
		t.Errorf("save = %v, want 2 entries", back["save"])
	}
}

func TestLoader_WithParser_LineFormat(t *testing.T) {
	// Using a custom parser via WithParser bypasses the default YAML parser.
	l := NewLoader(WithParser(LineParser{}))
	if l.parser == nil {
		t.Fatal("parser should be set")
	}
}
