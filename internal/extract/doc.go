// Package extract turns rendered job detail markup into jobs.JobPosting
// values. Missing elements degrade to documented defaults instead of failing
// the whole record.
package extract
