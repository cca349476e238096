/*
The store package reads, edits and writes DBT properties files, the YAML files
holding a "version" and a list of "models".

A Store is bound to one file. It loads the file in memory, gives the list of
models, and adds, updates or deletes one model at a time. Each successful
change is written to the file right away; a change that fails (duplicate name,
missing model, write error) leaves both the memory and the file as they were.

Validate and Check work on any YAML text without touching a file, and
GenerateSchema gives the JSON schema of a document.
*/
package store
