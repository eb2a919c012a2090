// Package jobs defines the job-posting record and the collaborator interfaces
// shared by the extractor, the crawl orchestrator, and the storage adapters.
package jobs
