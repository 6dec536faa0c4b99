// Package imagery defines the types shared by the satellite snapshot pipeline:
// the bounding box and WMS request parameters, the fetch outcome handed from
// the fetcher to the refresher, and the interfaces the refresher depends on.
package imagery
