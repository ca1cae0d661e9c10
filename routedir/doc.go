/*
Package routedir watches a directory of route configuration files.

Every immediate *.json file of the directory holds the configuration of
one route, and the base name of the file without the extension is the id
of the route. The Monitor keeps a snapshot of the known files and their
modification times. Scanning the directory compares its contents with the
snapshot and reports the differences as a ChangeSet of added, modified
and removed files. The snapshot is updated by the scan, and also by the
writes of the Monitor itself, so that changes made through the Monitor
are not reported again by the next scan.

Scanners drive the monitor and notify the registered listeners about the
non-empty change sets. The OnceScanner scans only once, when started. The
PeriodicScanner scans when started and then in a fixed interval, until
stopped.

Only polling is supported. Changes made to the directory become visible
with the next scan.
*/
package routedir
