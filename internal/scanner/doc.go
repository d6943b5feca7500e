// Package scanner performs archival walks of mounted volumes, recording a
// discovered event and a file row for every regular file. Scans run through a
// bounded worker pool and report progress through the jobs table.
package scanner
