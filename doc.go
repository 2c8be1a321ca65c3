/*
Package metastore implements a schema-less metadata store on top of a
relational database (SQLite or MySQL).

Callers attach named attributes to keyed items in named tables without
declaring columns:

 1. Tables, named collections of items. A table's key kind (string or number)
    is fixed when the table is first referenced.

 2. Items, one per distinct key within a table.

 3. Attributes, named per table. An attribute's value kind is fixed on first
    use; writing the other kind later fails with DataTypeMismatchError.

 4. Long strings, text too large for the value index, stored per item and
    name outside of it.

# Technical Details

**Interning.**
Table names, attribute names and scalar values are each mapped to stable
integer ids through a registry. A registry resolves a key from its cache,
then from the database, and creates it with an insert-if-absent statement
followed by a re-select when the insert was suppressed. Concurrent creators
therefore converge on the row that won the unique index, without an
application lock and without a transaction. The cache is filled only after
the row is durable.

**Staged writes.**
Attribute writes and row deletions are appended to a Session's buffer and
flushed in one transaction by Commit. Identifier creation is not part of
that transaction.

## Physical schema

	ms_tables(id, name UNIQUE, isnumeric)
	ms_names(id, tableid, name, isnumeric, UNIQUE(tableid, name))
	ms_values_string(id, value UNIQUE)
	ms_values_numeric(id, value UNIQUE)
	ms_items(id, tableid, valueid, created, lastmodified, UNIQUE(tableid, valueid))
	ms_itemnamevalues(itemid, nameid, valueid, UNIQUE(itemid, nameid))
	ms_longstrings(itemid, name, longstring, PRIMARY KEY(itemid, name))

Items reference their key in the value table of the table's key kind;
associations reference their value in the table of the attribute's kind.

**Queries.**
A Query names attributes the way a single flat table would. The compiler
joins ms_itemnamevalues and the matching value table once per referenced
attribute, restricted to that attribute's name id. Predicates pass a token
whitelist and every literal travels as a bound parameter.
*/
package metastore
