// Package crawler defines the domain records, lane jobs, and ports shared by
// the discovery, product, and review workers of the price comparison crawler.
package crawler
