package region

import "testing"

func testTable() *Table {
	return &Table{
		Preference: []string{"r-a", "r-b", "r-c"},
		LatencyMS: map[string]map[string]int{
			"west": {"r-a": 50, "r-b": 10, "r-c": 80},
			"tied": {"r-a": 30, "r-b": 30, "r-c": 90},
		},
	}
}

func TestSelect_LowestLatency(t *testing.T) {
	s := NewSelector(testTable())
	r, err := s.Select("west")
	if err != nil {
		t.Fatalf("select: %s", err)
	}
	if r != "r-b" {
		t.Errorf("expected r-b, got %s", r)
	}
}

func TestSelect_TieBreaksByPreference(t *testing.T) {
	s := NewSelector(testTable())
	r, _ := s.Select("tied")
	if r != "r-a" {
		t.Errorf("expected preference-order winner r-a, got %s", r)
	}
}

func TestSelect_UnknownHintFallsBack(t *testing.T) {
	s := NewSelector(testTable())
	r, _ := s.Select("antarctica")
	if r != "r-a" {
		t.Errorf("expected first preference r-a, got %s", r)
	}
}

func TestAlternate_ExcludesRegion(t *testing.T) {
	s := NewSelector(testTable())
	r, err := s.Alternate("west", "r-b")
	if err != nil {
		t.Fatalf("alternate: %s", err)
	}
	if r != "r-a" {
		t.Errorf("expected r-a, got %s", r)
	}
}

func TestReload_SwapsTable(t *testing.T) {
	s := NewSelector(testTable())
	s.Reload(&Table{
		Preference: []string{"r-z"},
		LatencyMS:  map[string]map[string]int{"west": {"r-z": 5}},
	})
	r, _ := s.Select("west")
	if r != "r-z" {
		t.Errorf("expected r-z after reload, got %s", r)
	}
}
