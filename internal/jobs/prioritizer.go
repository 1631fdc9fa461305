// Prioritizer implementing spec.md §4.9: a composable chain of pure
// multiplier rules scoring each job, then a descending sort. Grounded on
// _examples/original_source/app/prioritization/job_prioritizer.py,
// priority_rule.py, rules/low_bitrate_rule.py, rules/resolution_rule.py.
package jobs

import "sort"

// Rule is a pure function of a job producing a score multiplier.
// Additional rules may be plugged into Prioritize's rule list.
type Rule func(job *EncoderJob) float64

// LowBitrateRule penalizes already-compressed sources: below 1000 kb/s
// they are poor re-encoding candidates.
func LowBitrateRule(job *EncoderJob) float64 {
	va := job.JobData.SourceVideo.VideoAttributes
	if va == nil {
		return 1.0
	}
	if va.BitrateKbps < 1000 {
		return 0.1
	}
	return 1.0
}

// ResolutionRule favors higher-resolution sources, where re-encoding
// saves the most space.
func ResolutionRule(job *EncoderJob) float64 {
	va := job.JobData.SourceVideo.VideoAttributes
	if va == nil {
		return 0.5
	}
	switch {
	case va.HeightPx >= 2160:
		return 2.0
	case va.HeightPx >= 1080:
		return 1.5
	case va.HeightPx >= 720:
		return 1.0
	default:
		return 0.5
	}
}

// DefaultRules is the baseline rule set spec.md §4.9 names.
var DefaultRules = []Rule{LowBitrateRule, ResolutionRule}

// Prioritize scores every job by multiplying a base score of 1.0 with
// every rule's multiplier, sets job.Priority, and sorts jobs descending
// by priority.
func Prioritize(jobsList []*EncoderJob, rules []Rule) {
	for _, job := range jobsList {
		score := 1.0
		for _, rule := range rules {
			score *= rule(job)
		}
		job.Priority = score
	}

	sort.SliceStable(jobsList, func(i, j int) bool {
		return jobsList[i].Priority > jobsList[j].Priority
	})
}
