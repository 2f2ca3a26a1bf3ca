// Package monitor follows a WaterCrawl crawl or search job's status stream
// until the job reaches a terminal state or a wall-clock budget runs out,
// and returns every event it collected on the way.
//
// One Engine serves any number of concurrent Monitor calls. Each call owns
// its start time and event log; nothing is shared between calls except the
// injected client, clock and progress emitter.
package monitor
