// Package session реализует аллокацию live-сессий на real-time worker'ов.
//
// Allocator фильтрует READY worker'ов по запрошенным capabilities
// (модель, язык) и обходит кандидатов от наиболее свободного. Слот
// резервируется оптимистичным CAS: промах означает, что кандидата
// успели занять, и обход переходит к следующему. Если ни один кандидат
// не подошёл — типизированный отказ ErrNoCapacity без ожидания.
//
// Освобождение слота — ровно один раз: CAS-переход сессии в ENDED
// выигрывает только один из конкурирующих путей завершения (клиент,
// таймаут, эвикция worker'а), и только победитель декрементит счётчик.
package session
