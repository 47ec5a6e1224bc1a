// Package model defines the shared data types of the geometric semantic
// index: atoms, embeddings, projected points and search results.
//
// The package is dependency-free so that every layer (stores, projector,
// spatial index, query engine) can exchange records without import cycles.
package model
