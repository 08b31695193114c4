package embedded

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/feedtools-dev/muzzle/profile"
)

const storeJSON = `{
  "river_manager": {
    "users": {
      "101": {"id": 101, "name": "alice", "display_name": "Alice A."},
      "102": {"id": 102, "name": "Bcaster", "display_name": "Broadcast Bot",
              "status": "private",
              "counts": {"subscribers": 0, "subscriptions": 0}},
      "103": {"id": 103, "name": "carol",
              "private_subfeed_url": "/carol/private"}
    },
    "entries": [
      {"comments": [{"id": 9001, "user_id": 101}, {"id": 9002, "user_id": 102}]},
      {"comments": [{"id": 9003, "user_id": 103}]}
    ]
  }
}`

func TestParse(t *testing.T) {
	idx := Parse([]byte(storeJSON))
	if idx == nil {
		t.Fatal("Parse returned nil for valid blob")
	}

	if got := idx.DisplayNameByUserID("101"); got != "Alice A." {
		t.Errorf("DisplayNameByUserID(101) = %q", got)
	}
	if got := idx.UsernameByUserID("102"); got != "Bcaster" {
		t.Errorf("UsernameByUserID(102) = %q", got)
	}
	if got := idx.UserIDByCommentID("9003"); got != "103" {
		t.Errorf("UserIDByCommentID(9003) = %q", got)
	}
	if got := idx.DisplayNameByUsername("ALICE"); got != "Alice A." {
		t.Errorf("DisplayNameByUsername(ALICE) = %q", got)
	}
}

func TestParseRecords(t *testing.T) {
	idx := Parse([]byte(storeJSON))
	if idx == nil {
		t.Fatal("Parse returned nil")
	}

	rec := idx.RecordByUsername("bcaster")
	if rec == nil {
		t.Fatal("RecordByUsername(bcaster) = nil")
	}
	if rec.Status != profile.StatusPrivate {
		t.Errorf("status = %q, want private", rec.Status)
	}
	if !rec.LooksAutomated() {
		t.Error("bcaster should classify as automated")
	}

	// Private subfeed URL implies private status, but counts stay unknown.
	carol := idx.RecordByUsername("carol")
	if carol == nil {
		t.Fatal("RecordByUsername(carol) = nil")
	}
	if carol.Status != profile.StatusPrivate {
		t.Errorf("carol status = %q, want private", carol.Status)
	}
	if carol.LooksAutomated() {
		t.Error("carol has unknown counts and must not classify as automated")
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"not json", "<html>"},
		{"missing store", `{"other": {}}`},
		{"null store", `{"river_manager": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if idx := Parse([]byte(tt.blob)); idx != nil {
				t.Errorf("Parse(%q) = %+v, want nil", tt.blob, idx)
			}
		})
	}
}

func TestNilIndexLookups(t *testing.T) {
	var idx *Index
	if idx.DisplayNameByUserID("1") != "" || idx.UsernameByUserID("1") != "" ||
		idx.DisplayNameByUsername("x") != "" || idx.UserIDByCommentID("1") != "" {
		t.Error("nil Index lookups must return zero values")
	}
	if idx.RecordByUsername("x") != nil {
		t.Error("nil Index RecordByUsername must return nil")
	}
}

func TestFromDocument(t *testing.T) {
	page := `<html><head>
	  <script ` + StoreAttr + `="feedStore" type="application/json">` + storeJSON + `</script>
	</head><body></body></html>`

	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	idx := FromDocument(root)
	if idx == nil {
		t.Fatal("FromDocument returned nil")
	}
	if got := idx.UsernameByUserID("101"); got != "alice" {
		t.Errorf("UsernameByUserID(101) = %q", got)
	}
}

func TestFromDocumentAbsent(t *testing.T) {
	root, err := html.Parse(strings.NewReader("<html><body><p>no store</p></body></html>"))
	if err != nil {
		t.Fatal(err)
	}
	if idx := FromDocument(root); idx != nil {
		t.Errorf("FromDocument without store = %+v, want nil", idx)
	}
}
