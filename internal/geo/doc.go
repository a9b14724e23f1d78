// Package geo provides the geographic primitives of a survey crawl.
//
// A GeoBox is a latitude/longitude rectangle that can be split into halves
// or quadrants and enlarged so that sibling quadrants overlap. A TreeIndex
// names a node in the quadtree produced by repeated splits of a root box;
// the root is "0" and the children of "0" are "0-0" (NE), "0-1" (NW),
// "0-2" (SE) and "0-3" (SW).
package geo
