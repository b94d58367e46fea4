// Package domain содержит основные типы данных Vocata:
// Job, Task, Worker, Session и их статусы.
//
// Типы domain не содержат логики оркестрации —
// только данные и простые переходы статусов.
// Авторитетное состояние живёт в координационном хранилище (Postgres),
// все in-memory копии одноразовые и восстанавливаются из него.
package domain
