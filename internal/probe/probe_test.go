package probe

import "testing"

func TestDetectHDRTypesSDR(t *testing.T) {
	s := ffprobeStream{ColorTransfer: "bt709"}
	types := detectHDRTypes(s)
	if len(types) != 0 {
		t.Errorf("expected empty HDR set for SDR stream, got %v", types)
	}
}

func TestDetectHDRTypesPQAndHDR10(t *testing.T) {
	s := ffprobeStream{
		ColorTransfer: "smpte2084",
		SideDataList: []ffprobeSideData{
			{SideDataType: "Mastering display metadata"},
		},
	}
	types := detectHDRTypes(s)
	if !containsType(types, HDRPQ) || !containsType(types, HDR10) {
		t.Errorf("expected {PQ, HDR10}, got %v", types)
	}
}

func TestDetectHDRTypesHLG(t *testing.T) {
	s := ffprobeStream{ColorTransfer: "arib-std-b67"}
	types := detectHDRTypes(s)
	if !containsType(types, HDRHLG) {
		t.Errorf("expected HLG, got %v", types)
	}
}

func TestDetectHDRTypesDolbyVisionBySideData(t *testing.T) {
	s := ffprobeStream{
		SideDataList: []ffprobeSideData{{SideDataType: "DOVI configuration record"}},
	}
	types := detectHDRTypes(s)
	if !containsType(types, HDRDolbyVision) {
		t.Errorf("expected Dolby Vision, got %v", types)
	}
}

func TestDetectHDRTypesDolbyVisionByTag(t *testing.T) {
	s := ffprobeStream{Tags: map[string]string{"dv_profile": "8"}}
	types := detectHDRTypes(s)
	if !containsType(types, HDRDolbyVision) {
		t.Errorf("expected Dolby Vision from dv_profile tag, got %v", types)
	}
}

func TestDetectHDRTypesHDR10Plus(t *testing.T) {
	s := ffprobeStream{
		SideDataList: []ffprobeSideData{{SideDataType: "HDR Dynamic Metadata 2094-40"}},
	}
	types := detectHDRTypes(s)
	if !containsType(types, HDR10Plus) {
		t.Errorf("expected HDR10+, got %v", types)
	}
}

func TestDetectHDRTypesPQWithoutMasteringIsNotHDR10(t *testing.T) {
	s := ffprobeStream{ColorTransfer: "smpte2084"}
	types := detectHDRTypes(s)
	if containsType(types, HDR10) {
		t.Errorf("PQ alone without mastering-display/CLL should not be HDR10, got %v", types)
	}
	if !containsType(types, HDRPQ) {
		t.Errorf("expected PQ still set, got %v", types)
	}
}

func TestParseFrameRate(t *testing.T) {
	cases := map[string]float64{
		"30000/1001": 29.97002997002997,
		"25/1":       25,
		"":           0,
		"0/0":        0,
	}
	for in, want := range cases {
		if got := parseFrameRate(in); got != want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsMP4(t *testing.T) {
	if !IsMP4("/input/Sample.MP4") {
		t.Error("expected case-insensitive .mp4 match")
	}
	if IsMP4("/input/sample.mkv") {
		t.Error("expected .mkv to not match")
	}
}

func containsType(types []HDRType, want HDRType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
