// Package crawler defines the domain types, collaborator interfaces, and error
// taxonomy shared by the crawl task subsystems: the task registry, the
// orchestrator, the background workers, the extraction pipeline, and the
// webhook notifier.
package crawler
