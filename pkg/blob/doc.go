// Package blob defines the flat key-to-blob object store contract and a
// filesystem implementation used in development and tests. The production
// implementation lives in pkg/blob/s3.
package blob
