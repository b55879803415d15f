package node

import "testing"

func TestIdentifierGUIDRoundTrip(t *testing.T) {
	id := NewSPID(3, 42, 0, "/a/b.txt")

	guid := id.GUID()
	if guid != "3:42" {
		t.Fatalf("GUID() = %q, want 3:42", guid)
	}

	d, n, p, ok := ParseGUID(guid)
	if !ok || d != 3 || n != 42 || p != 0 {
		t.Fatalf("ParseGUID(%q) = (%d,%d,%d,%v)", guid, d, n, p, ok)
	}
}

func TestIdentifierGUIDWithPathUID(t *testing.T) {
	id := NewSPID(1, 7, 5, "/x")

	guid := id.GUID()
	if guid != "1:7:5" {
		t.Fatalf("GUID() = %q, want 1:7:5", guid)
	}

	d, n, p, ok := ParseGUID(guid)
	if !ok || d != 1 || n != 7 || p != 5 {
		t.Fatalf("ParseGUID(%q) = (%d,%d,%d,%v)", guid, d, n, p, ok)
	}
}

func TestIdentifierEqualityIgnoresPath(t *testing.T) {
	a := NewSPID(1, 7, 0, "/a")
	b := NewSPID(1, 7, 0, "/different/path")

	if !a.Equal(b) {
		t.Fatal("identifiers with same (device,node) should be equal regardless of path")
	}
}

func TestMPIDPathList(t *testing.T) {
	id := NewMPID(1, 9, []string{"/shared/a", "/other/a"})
	if len(id.PathList()) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(id.PathList()))
	}
}

func TestNodeEqualByIdentityOnly(t *testing.T) {
	n1 := NewLocalFile(NewSPID(1, 5, 0, "/a.txt"), "a.txt", 2, 100, 0)
	n2 := NewLocalFile(NewSPID(1, 5, 0, "/renamed.txt"), "renamed.txt", 3, 200, 0)

	if !n1.Equal(n2) {
		t.Fatal("nodes with same (device,uid) must be equal even if other fields differ")
	}
}

func TestPlanningNodeNotLive(t *testing.T) {
	n := NewPlanningDir(NewSPID(1, 99, 0, "/new"), "new", 1)
	if n.IsLive {
		t.Fatal("planning node must have IsLive=false")
	}
}

type kindRecorder struct{ got Kind }

func (r *kindRecorder) VisitLocalDir(*Node)       { r.got = KindLocalDir }
func (r *kindRecorder) VisitLocalFile(*Node)      { r.got = KindLocalFile }
func (r *kindRecorder) VisitCloudDir(*Node)       { r.got = KindCloudDir }
func (r *kindRecorder) VisitCloudFile(*Node)      { r.got = KindCloudFile }
func (r *kindRecorder) VisitContainer(*Node)      { r.got = KindContainer }
func (r *kindRecorder) VisitNonexistentDir(*Node) { r.got = KindNonexistentDir }

func TestVisitorDispatch(t *testing.T) {
	n := NewCloudFile(NewMPID(2, 1, []string{"/x"}), "x", nil, "goog1", 10)

	rec := &kindRecorder{}
	Visit(n, rec)

	if rec.got != KindCloudFile {
		t.Fatalf("Visit dispatched to %v, want KindCloudFile", rec.got)
	}
}
