/*
Package logging implements the application log instrumentation.

The application log uses the logrus package:

https://github.com/sirupsen/logrus

Components of the router receive a Logger through their options. When no
logger is passed, they log to the logrus standard logger, tagged with the
name of the component.

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set a common prefix for
each log entry, to set the minimum level and to switch to JSON formatted
entries. See Init.
*/
package logging
